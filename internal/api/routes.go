package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/receipt-reconciler/internal/automation"
	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/engine"
	"github.com/Veraticus/receipt-reconciler/internal/model"
)

type connectBody struct {
	Confidence     *int                 `json:"confidence"`
	Source         *model.SourceInfo    `json:"source"`
	FileID         string               `json:"fileId"`
	TransactionID  string               `json:"transactionId"`
	ConnectionType model.ConnectionType `json:"connectionType"`
}

type connectResponse struct {
	engine.ConnectResult
	Success bool `json:"success"`
}

type pairBody struct {
	FileID        string `json:"fileId"`
	TransactionID string `json:"transactionId"`
}

type partnerBody struct {
	Confidence    *int              `json:"confidence"`
	TransactionID string            `json:"transactionId"`
	FileID        string            `json:"fileId"`
	PartnerID     string            `json:"partnerId"`
	PartnerType   model.PartnerType `json:"partnerType"`
	MatchedBy     model.MatchSource `json:"matchedBy"`
}

func (b partnerBody) request() engine.AssignPartnerRequest {
	matchedBy := b.MatchedBy
	if matchedBy == model.MatchSourceNone {
		matchedBy = model.MatchSourceManual
	}
	return engine.AssignPartnerRequest{
		Confidence:  b.Confidence,
		PartnerID:   b.PartnerID,
		PartnerType: b.PartnerType,
		MatchedBy:   matchedBy,
	}
}

type notInvoiceBody struct {
	FileID string `json:"fileId"`
	Reason string `json:"reason"`
}

type categoryBody struct {
	Confidence    *int              `json:"confidence"`
	TransactionID string            `json:"transactionId"`
	CategoryID    string            `json:"categoryId"`
	MatchedBy     model.MatchSource `json:"matchedBy"`
}

type receiptLostBody struct {
	TransactionID string                  `json:"transactionId"`
	Reason        model.ReceiptLostReason `json:"reason"`
	Description   string                  `json:"description"`
}

type bulkUpdateBody struct {
	Updates []engine.TransactionPatch `json:"updates"`
}

type bulkDeleteBody struct {
	FileIDs []string `json:"fileIds"`
	Hard    bool     `json:"hard"`
}

type importBody struct {
	Transactions []model.Transaction `json:"transactions"`
}

type cancelBody struct {
	TriggerContext model.TriggerContext `json:"triggerContext"`
	WorkerTypes    []string             `json:"workerTypes"`
}

type listQueueBody struct {
	Kind     model.QueueKind     `json:"kind"`
	Statuses []model.QueueStatus `json:"statuses"`
}

type queueItemBody struct {
	ID string `json:"id"`
}

type finishRunBody struct {
	RunID  string             `json:"runId"`
	Status model.WorkerStatus `json:"status"`
	Error  string             `json:"error"`
}

// ok is the response of calls without a result.
var ok = gin.H{"success": true}

func (s *Server) routes(rpc *gin.RouterGroup) {
	rec := s.reconciler

	rpc.POST("/connectFileToTransaction", handle(func(ctx context.Context, userID string, b connectBody) (any, error) {
		connType := b.ConnectionType
		if connType == "" {
			connType = model.ConnectionManual
		}
		res, err := rec.Connect(ctx, userID, engine.ConnectRequest{
			Confidence:     b.Confidence,
			Source:         b.Source,
			FileID:         b.FileID,
			TransactionID:  b.TransactionID,
			ConnectionType: connType,
		})
		if err != nil {
			return nil, err
		}
		return connectResponse{Success: true, ConnectResult: res}, nil
	}))
	rpc.POST("/disconnectFileFromTransaction", handle(func(ctx context.Context, userID string, b pairBody) (any, error) {
		return ok, rec.Disconnect(ctx, userID, b.FileID, b.TransactionID)
	}))
	rpc.POST("/dismissSuggestion", handle(func(ctx context.Context, userID string, b pairBody) (any, error) {
		return ok, rec.DismissSuggestion(ctx, userID, b.FileID, b.TransactionID)
	}))

	rpc.POST("/assignPartnerToTransaction", handle(func(ctx context.Context, userID string, b partnerBody) (any, error) {
		return ok, rec.AssignPartnerToTransaction(ctx, userID, b.TransactionID, b.request())
	}))
	rpc.POST("/removePartnerFromTransaction", handle(func(ctx context.Context, userID string, b partnerBody) (any, error) {
		return ok, rec.RemovePartnerFromTransaction(ctx, userID, b.TransactionID)
	}))
	rpc.POST("/assignPartnerToFile", handle(func(ctx context.Context, userID string, b partnerBody) (any, error) {
		return ok, rec.AssignPartnerToFile(ctx, userID, b.FileID, b.request())
	}))
	rpc.POST("/removePartnerFromFile", handle(func(ctx context.Context, userID string, b partnerBody) (any, error) {
		return ok, rec.RemovePartnerFromFile(ctx, userID, b.FileID)
	}))
	rpc.POST("/markFileAsNotInvoice", handle(func(ctx context.Context, userID string, b notInvoiceBody) (any, error) {
		return ok, rec.MarkFileAsNotInvoice(ctx, userID, b.FileID, b.Reason)
	}))

	rpc.POST("/assignCategory", handle(func(ctx context.Context, userID string, b categoryBody) (any, error) {
		matchedBy := b.MatchedBy
		if matchedBy == model.MatchSourceNone {
			matchedBy = model.MatchSourceManual
		}
		return ok, rec.AssignCategory(ctx, userID, b.TransactionID, engine.AssignCategoryRequest{
			Confidence: b.Confidence,
			CategoryID: b.CategoryID,
			MatchedBy:  matchedBy,
		})
	}))
	rpc.POST("/removeCategory", handle(func(ctx context.Context, userID string, b categoryBody) (any, error) {
		return ok, rec.RemoveCategory(ctx, userID, b.TransactionID)
	}))
	rpc.POST("/assignReceiptLostCategory", handle(func(ctx context.Context, userID string, b receiptLostBody) (any, error) {
		return ok, rec.AssignReceiptLostCategory(ctx, userID, b.TransactionID, engine.ReceiptLostRequest{
			Reason:      b.Reason,
			Description: b.Description,
		})
	}))

	rpc.POST("/bulkUpdateTransactions", handle(func(ctx context.Context, userID string, b bulkUpdateBody) (any, error) {
		if len(b.Updates) == 0 {
			return nil, common.InvalidArgument("updates must not be empty")
		}
		return rec.BulkUpdateTransactions(ctx, userID, b.Updates), nil
	}))
	rpc.POST("/bulkDeleteFiles", handle(func(ctx context.Context, userID string, b bulkDeleteBody) (any, error) {
		if len(b.FileIDs) == 0 {
			return nil, common.InvalidArgument("fileIds must not be empty")
		}
		return rec.BulkDeleteFiles(ctx, userID, b.FileIDs, b.Hard), nil
	}))
	rpc.POST("/importTransactions", handle(func(ctx context.Context, userID string, b importBody) (any, error) {
		if len(b.Transactions) == 0 {
			return nil, common.InvalidArgument("transactions must not be empty")
		}
		return rec.ImportTransactions(ctx, userID, b.Transactions)
	}))

	auto := s.automation
	rpc.POST("/cancelWorkers", handle(func(ctx context.Context, userID string, b cancelBody) (any, error) {
		n, err := auto.CancelWorkersForEntity(ctx, userID, b.TriggerContext, b.WorkerTypes...)
		return gin.H{"cancelled": n}, err
	}))
	rpc.POST("/requestSearch", handle(func(ctx context.Context, userID string, b automation.SearchRequest) (any, error) {
		return auto.RequestSearch(ctx, userID, b)
	}))
	rpc.POST("/listQueue", handle(func(ctx context.Context, userID string, b listQueueBody) (any, error) {
		items, err := auto.ListQueue(ctx, userID, b.Kind, b.Statuses...)
		if items == nil {
			items = []model.QueueItem{}
		}
		return gin.H{"items": items}, err
	}))
	rpc.POST("/retryQueueItem", handle(func(ctx context.Context, userID string, b queueItemBody) (any, error) {
		return auto.Retry(ctx, userID, b.ID)
	}))
	rpc.POST("/pauseQueueItem", handle(func(ctx context.Context, userID string, b queueItemBody) (any, error) {
		return auto.Pause(ctx, userID, b.ID)
	}))
	rpc.POST("/resumeQueueItem", handle(func(ctx context.Context, userID string, b queueItemBody) (any, error) {
		return auto.Resume(ctx, userID, b.ID)
	}))
	rpc.POST("/finishWorkerRun", handle(func(ctx context.Context, userID string, b finishRunBody) (any, error) {
		return auto.FinishRun(ctx, userID, b.RunID, b.Status, b.Error)
	}))
}

// handle decodes the JSON body into T, runs fn for the caller and writes
// its result or error.
func handle[T any](fn func(ctx context.Context, userID string, body T) (any, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body T
		if err := c.ShouldBindJSON(&body); err != nil {
			abort(c, common.InvalidArgument("malformed request body: %v", err))
			return
		}

		out, err := fn(c.Request.Context(), c.GetString(userKey), body)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
