package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pwalczak/memberca/internal/registrar"
	"github.com/pwalczak/memberca/internal/store"
	"github.com/pwalczak/memberca/internal/wire"
)

type registerHandler struct {
	authority *registrar.Authority
}

func newRegisterHandler(authority *registrar.Authority) *registerHandler {
	return &registerHandler{authority: authority}
}

// Register handles registration requests.
// POST /v1/register
func (h *registerHandler) Register(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.Data(http.StatusBadRequest, "application/json",
			h.authority.HandleRaw(c.Request.Context(), nil))
		return
	}

	responseBytes := h.authority.HandleRaw(c.Request.Context(), body)

	response, err := wire.DecodeResponse(responseBytes)
	status := http.StatusOK
	if err == nil && response.Error != nil {
		switch response.Error.Code {
		case wire.CodeUsernameTaken:
			status = http.StatusConflict
		case wire.CodeInvalidRequest:
			status = http.StatusBadRequest
		default:
			status = http.StatusServiceUnavailable
		}
	}

	c.Data(status, "application/json", responseBytes)
}

type recordsHandler struct {
	store store.Store
}

func newRecordsHandler(st store.Store) *recordsHandler {
	return &recordsHandler{store: st}
}

// RecordView is the admin-facing shape of an issuance record.
type RecordView struct {
	Username    string    `json:"username"`
	IdentityKey string    `json:"identity_key"`
	Serial      uint64    `json:"serial"`
	IssuedAt    time.Time `json:"issued_at"`
}

// List returns all issuance records.
// GET /v1/admin/records
func (h *recordsHandler) List(c *gin.Context) {
	records, err := h.store.List(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store_error", "Failed to list records")
		return
	}

	views := make([]RecordView, 0, len(records))
	for _, record := range records {
		views = append(views, RecordView{
			Username:    record.Username,
			IdentityKey: record.IdentityKey,
			Serial:      record.Serial,
			IssuedAt:    record.IssuedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"records": views})
}
