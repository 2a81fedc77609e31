package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/scholarchain/internal/events"
	"github.com/jmerrifield20/scholarchain/internal/identity"
	"github.com/jmerrifield20/scholarchain/internal/ledger"
	"go.uber.org/zap"
)

// maxLatest caps the ?latest= parameter of the overview.
const maxLatest = 1000

// Roles allowed to verify the chain and read any audit trail.
var auditRoles = []string{identity.RoleAdmin, identity.RoleStaff, identity.RoleAuditor}

// entityAliases maps short path segments to payload model names.
var entityAliases = map[string]string{
	"user":         events.ModelUser,
	"role":         events.ModelRole,
	"presentation": events.ModelPresentation,
	"notification": events.ModelNotification,
}

// LedgerHandler exposes the ledger over HTTP.
type LedgerHandler struct {
	chain         *ledger.Chain
	auditor       *ledger.Auditor
	tokens        *identity.TokenIssuer // nil = authentication disabled
	latestDefault int
	logger        *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(chain *ledger.Chain, auditor *ledger.Auditor, tokens *identity.TokenIssuer, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		chain:         chain,
		auditor:       auditor,
		tokens:        tokens,
		latestDefault: ledger.DefaultLatest,
		logger:        logger,
	}
}

// SetLatestDefault sets how many recent blocks the overview returns when the
// request does not say.
func (h *LedgerHandler) SetLatestDefault(n int) {
	if n > 0 {
		h.latestDefault = n
	}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	l.Use(identity.RequireToken(h.tokens))
	{
		l.GET("", h.Overview)
		l.GET("/verify", identity.RequireRole(auditRoles...), h.Verify)
		l.GET("/blocks/:seq", h.GetBlock)
		l.GET("/audit-trail/:type/:id", h.AuditTrail)
		l.POST("/records", identity.RequireRole(identity.RoleService, identity.RoleAdmin), h.AppendRecord)
	}
}

// blockView is the API rendering of a block.
type blockView struct {
	*ledger.Block
	UserName string `json:"user_name"`
}

func viewOf(b *ledger.Block) blockView {
	return blockView{Block: b, UserName: b.ActorName()}
}

// Overview handles GET /ledger and returns block counts per record type, the
// latest blocks and the chain tip.
func (h *LedgerHandler) Overview(c *gin.Context) {
	latest := h.latestDefault
	if s := c.Query("latest"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLatest {
			c.JSON(http.StatusBadRequest, gin.H{"error": "latest must be an integer between 1 and 1000"})
			return
		}
		latest = n
	}

	stats, err := h.chain.Statistics(c.Request.Context(), latest)
	if err != nil {
		h.logger.Error("ledger statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	views := make([]blockView, len(stats.Latest))
	for i, b := range stats.Latest {
		views[i] = viewOf(b)
	}
	var tip any
	if len(stats.Latest) > 0 {
		tip = stats.Latest[0].Digest
	}

	c.JSON(http.StatusOK, gin.H{
		"total_blocks":       stats.TotalBlocks,
		"record_type_counts": stats.ByType,
		"latest_blocks":      views,
		"tip":                tip,
	})
}

// Verify handles GET /ledger/verify. It walks the full chain and reports integrity.
func (h *LedgerHandler) Verify(c *gin.Context) {
	report, err := h.chain.Verify(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger verify", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify ledger"})
		return
	}

	message := "Blockchain integrity verified successfully"
	if !report.Valid {
		message = "Blockchain integrity check failed"
		h.logger.Warn("ledger integrity check failed",
			zap.Int("findings", len(report.Findings)),
			zap.Strings("errors", report.Errors()),
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"is_valid":     report.Valid,
		"total_blocks": report.Blocks,
		"errors":       report.Errors(),
		"findings":     report.Findings,
		"message":      message,
		"checked_at":   report.CheckedAt,
	})
}

// GetBlock handles GET /ledger/blocks/:seq and returns a single block.
func (h *LedgerHandler) GetBlock(c *gin.Context) {
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil || seq == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return
	}

	b, err := h.chain.Get(c.Request.Context(), seq)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	if err != nil {
		h.logger.Error("ledger get block", zap.Uint64("seq", seq), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	c.JSON(http.StatusOK, viewOf(b))
}

// AuditTrail handles GET /ledger/audit-trail/:type/:id and returns every block
// recorded for one entity, optionally filtered by ?record_type=.
func (h *LedgerHandler) AuditTrail(c *gin.Context) {
	ref := ledger.EntityRef{Type: c.Param("type"), ID: c.Param("id")}
	if model, ok := entityAliases[ref.Type]; ok {
		ref.Type = model
	}

	var types []ledger.RecordType
	for _, s := range c.QueryArray("record_type") {
		t, err := ledger.ParseRecordType(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		types = append(types, t)
	}

	ctx := c.Request.Context()
	allowed, err := h.canReadTrail(ctx, identity.ClaimsFromCtx(c), ref)
	if err != nil {
		h.logger.Error("ledger trail owner", zap.String("entity", ref.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit trail"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "You do not have permission to view this audit trail"})
		return
	}

	trail, err := h.auditor.TrailFor(ctx, ref, types...)
	if err != nil {
		h.logger.Error("ledger audit trail", zap.String("entity", ref.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit trail"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity":        ref,
		"audit_trail":   trail,
		"total_records": len(trail),
	})
}

// canReadTrail decides trail access. Auditing roles read everything; users
// read their own account; coordinators, examiners and the submitting
// student read a presentation's trail. Ownership is looked up independently
// of any record_type filter on the request.
func (h *LedgerHandler) canReadTrail(ctx context.Context, claims *identity.Claims, ref ledger.EntityRef) (bool, error) {
	if claims.HasRole(auditRoles...) {
		return true, nil
	}
	switch ref.Type {
	case events.ModelUser:
		return claims != nil && claims.Subject == ref.ID, nil
	case events.ModelPresentation:
		if claims.HasRole(identity.RoleCoordinator, identity.RoleExaminer) {
			return true, nil
		}
		if claims == nil {
			return false, nil
		}
		owner, err := h.presentationOwner(ctx, ref)
		if err != nil {
			return false, err
		}
		return owner != "" && owner == claims.Subject, nil
	default:
		return false, nil
	}
}

// presentationOwner returns the actor of the presentation's submission
// block, if any.
func (h *LedgerHandler) presentationOwner(ctx context.Context, ref ledger.EntityRef) (string, error) {
	subs, err := h.auditor.TrailFor(ctx, ref, ledger.RecordPresentationSubmission)
	if err != nil {
		return "", err
	}
	for _, e := range subs {
		if e.ActorID != "" {
			return e.ActorID, nil
		}
	}
	return "", nil
}
