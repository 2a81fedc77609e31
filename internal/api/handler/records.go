package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/scholarchain/internal/events"
	"github.com/jmerrifield20/scholarchain/internal/ledger"
	"go.uber.org/zap"
)

// appendRecordRequest is the body of POST /ledger/records.
type appendRecordRequest struct {
	RecordType string            `json:"record_type"`
	Operation  string            `json:"operation"`
	Model      string            `json:"model"`
	ModelID    string            `json:"model_id"`
	Data       map[string]any    `json:"data"`
	Actor      *ledger.ActorRef  `json:"actor,omitempty"`
	Subject    *ledger.EntityRef `json:"subject,omitempty"`
}

func (r *appendRecordRequest) validate() (ledger.RecordType, error) {
	t, err := ledger.ParseRecordType(r.RecordType)
	if err != nil {
		return "", err
	}
	switch ledger.Operation(r.Operation) {
	case ledger.OpCreate, ledger.OpUpdate, ledger.OpDelete:
	default:
		return "", errors.New("operation must be create, update or delete")
	}
	if r.Model == "" || r.ModelID == "" {
		return "", errors.New("model and model_id are required")
	}
	if r.Subject != nil && (r.Subject.Type == "" || r.Subject.ID == "") {
		return "", errors.New("subject needs both type and id")
	}
	return t, nil
}

// AppendRecord handles POST /ledger/records. It lets backend producers that
// run out of process append a domain event.
func (h *LedgerHandler) AppendRecord(c *gin.Context) {
	var req appendRecordRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}

	typ, err := req.validate()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref := ledger.EntityRef{Type: req.Model, ID: req.ModelID}
	rec := ledger.Record{
		Type:     typ,
		Payload:  ledger.NewPayload(ledger.Operation(req.Operation), ref, events.Snapshot(req.Data)),
		Actor:    req.Actor,
		Subject:  req.Subject,
		SourceIP: c.ClientIP(),
	}

	b, err := h.chain.Append(c.Request.Context(), rec)
	switch {
	case errors.Is(err, ledger.ErrUnknownRecordType), errors.Is(err, ledger.ErrEncoding):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ledger.ErrConflict):
		h.logger.Error("ledger append conflict", zap.String("record_type", string(typ)), zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": "ledger write conflict, retry the request"})
		return
	case err != nil:
		h.logger.Error("ledger append", zap.String("record_type", string(typ)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append record"})
		return
	}

	h.logger.Info("ledger record appended",
		zap.Uint64("seq", b.Sequence),
		zap.String("record_type", string(b.RecordType)),
		zap.String("entity", ref.String()),
	)
	c.JSON(http.StatusCreated, viewOf(b))
}
