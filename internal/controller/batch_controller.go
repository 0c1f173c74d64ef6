package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/service"
)

// BatchRunner runs one abandoned cart pass.
type BatchRunner interface {
	Run(ctx context.Context) (*service.BatchResult, error)
}

type BatchController struct {
	Checker BatchRunner
	Log     *zap.Logger
}

// CartCheck handles POST /jobs/cart-check.
func (c *BatchController) CartCheck(w http.ResponseWriter, r *http.Request) {
	res, err := c.Checker.Run(r.Context())
	switch {
	case errors.Is(err, appErrors.ErrBatchInProgress):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     err.Error(),
			"timestamp": time.Now().UTC(),
		})
		return
	case err != nil:
		if c.Log != nil {
			c.Log.Error("cart check failed", zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":     err.Error(),
			"timestamp": time.Now().UTC(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Cart check completed",
		"selected":  res.Selected,
		"processed": res.Processed,
		"sent":      res.Sent,
		"failed":    res.Failed,
		"skipped":   res.Skipped,
		"errored":   res.Errored,
		"timestamp": res.Timestamp,
	})
}
