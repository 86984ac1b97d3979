package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/veritrace/veritrace/internal/authority"
	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/internal/item"
	"github.com/veritrace/veritrace/internal/ledger"
	"github.com/veritrace/veritrace/internal/policy"
)

// MessageKind identifies the request type carried by a stream. The kind is
// the first byte written after the stream opens.
type MessageKind byte

const (
	KindSubmitReport MessageKind = iota + 1
	KindResolveReport
	KindGetReport
	KindReporterProfile
	KindListHighRisk
	KindSummary
	KindRegisterItem
	KindTransferCustody
	KindRecordAttestation
	KindQuarantine
	KindGetItem
	KindFundPool
	KindWithdrawPool
	KindSetPolicy
	KindGetPolicy
	KindGrantRole
	KindRevokeRole

	kindEnd
)

// ValidKind reports whether a kind byte names a known request type.
func ValidKind(b byte) bool {
	return b >= byte(KindSubmitReport) && b < byte(kindEnd)
}

// maxFrameSize bounds a single request or response payload.
const maxFrameSize = 1 << 20

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrUnknownKind   = errors.New("unknown message kind")
)

// WriteFrame writes a length-prefixed JSON frame.
func WriteFrame(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return ErrFrameTooLarge
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(payload)))
	if _, err := w.Write(size[:]); err != nil {
		return fmt.Errorf("write frame size: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns the raw payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, fmt.Errorf("read frame size: %w", err)
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// ErrorCode classifies a failed request on the wire.
type ErrorCode string

const (
	CodeValidation     ErrorCode = "validation"
	CodePolicy         ErrorCode = "policyViolation"
	CodeNotFound       ErrorCode = "notFound"
	CodeConflict       ErrorCode = "conflict"
	CodeTransferFailed ErrorCode = "transferFailed"
	CodeUnauthorized   ErrorCode = "unauthorized"
	CodeInternal       ErrorCode = "internal"
)

// WireError is the error shape returned to callers.
type WireError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// classifyError maps a domain error onto its wire code.
func classifyError(err error) ErrorCode {
	switch {
	case ledger.IsValidationError(err):
		return CodeValidation
	case ledger.IsPolicyViolation(err):
		return CodePolicy
	case ledger.IsNotFound(err) || errors.Is(err, item.ErrItemNotFound):
		return CodeNotFound
	case ledger.IsStateConflict(err) || errors.Is(err, item.ErrItemExists):
		return CodeConflict
	case ledger.IsTransferFailure(err) ||
		errors.Is(err, ledger.ErrInsufficientPool) ||
		errors.Is(err, ledger.ErrPoolOverflow):
		return CodeTransferFailed
	case errors.Is(err, authority.ErrNotAuthorized) ||
		errors.Is(err, authority.ErrUnknownActor) ||
		errors.Is(err, item.ErrBadSignature) ||
		errors.Is(err, item.ErrNotCustodian):
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}

// Response is the envelope for every reply. Result is set on success,
// Error otherwise.
type Response struct {
	OK     bool            `json:"ok"`
	Error  *WireError      `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type SubmitReportRequest struct {
	ItemID      crypto.Hash `json:"itemId"`
	Nullifier   crypto.Hash `json:"nullifier"`
	EvidenceRef crypto.Hash `json:"evidenceRef"`
	Reason      string      `json:"reason"`
	Severity    uint8       `json:"severity"`
	Stake       uint64      `json:"stake"`
}

type SubmitReportResponse struct {
	ReportID ledger.ReportID `json:"reportId"`
}

type ResolveReportRequest struct {
	ReportID      ledger.ReportID `json:"reportId"`
	ConfirmedFake bool            `json:"confirmedFake"`
}

type ResolveReportResponse struct {
	Payout     uint64 `json:"payout"`
	Reputation int64  `json:"reputation"`
}

type GetReportRequest struct {
	ReportID ledger.ReportID `json:"reportId"`
}

type ReporterProfileRequest struct {
	Actor crypto.ActorID `json:"actor"`
}

type ListHighRiskRequest struct {
	Cursor uint32 `json:"cursor"`
	Limit  uint32 `json:"limit"`
}

type ListHighRiskResponse struct {
	Items []crypto.Hash `json:"items"`
	// Next is the cursor for the following page, zero when exhausted.
	Next uint32 `json:"next"`
}

type RegisterItemRequest struct {
	ProductName string `json:"productName"`
	BatchNumber string `json:"batchNumber"`
	Nonce       uint64 `json:"nonce"`
	Signature   []byte `json:"signature"`
}

type RegisterItemResponse struct {
	ItemID crypto.Hash `json:"itemId"`
}

type TransferCustodyRequest struct {
	ItemID crypto.Hash    `json:"itemId"`
	To     crypto.ActorID `json:"to"`
}

type RecordAttestationRequest struct {
	ItemID      crypto.Hash `json:"itemId"`
	Passed      bool        `json:"passed"`
	EvidenceRef crypto.Hash `json:"evidenceRef"`
}

type QuarantineRequest struct {
	ItemID      crypto.Hash `json:"itemId"`
	Quarantined bool        `json:"quarantined"`
}

type GetItemRequest struct {
	ItemID crypto.Hash `json:"itemId"`
}

type FundPoolRequest struct {
	Amount uint64 `json:"amount"`
}

type WithdrawPoolRequest struct {
	Amount uint64 `json:"amount"`
}

type SetPolicyRequest struct {
	Params policy.Parameters `json:"params"`
}

type GrantRoleRequest struct {
	Actor crypto.ActorID `json:"actor"`
	Role  string         `json:"role"`
}

type RevokeRoleRequest struct {
	Actor crypto.ActorID `json:"actor"`
	Role  string         `json:"role"`
}

// RoleMask resolves a role name to its capability mask.
func RoleMask(role string) (authority.Capability, error) {
	switch role {
	case "manufacturer":
		return authority.RoleManufacturer, nil
	case "lab":
		return authority.RoleLab, nil
	case "inspector":
		return authority.RoleInspector, nil
	case "regulator":
		return authority.RoleRegulator, nil
	default:
		return 0, fmt.Errorf("unknown role %q", role)
	}
}
