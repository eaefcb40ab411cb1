package collaboration

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"collab-relay/internal/middleware"
	"collab-relay/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// NotificationsPath is the reserved path of the per-user notification socket
const NotificationsPath = "notifications"

// AdmissionKind tells which channel an admitted socket joins
type AdmissionKind int

const (
	AdmitDocument AdmissionKind = iota + 1
	AdmitNotification
)

func (k AdmissionKind) String() string {
	switch k {
	case AdmitDocument:
		return "document"
	case AdmitNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Admission is the outcome of a successful handshake
type Admission struct {
	Kind       AdmissionKind
	DocumentID string
	UserID     string
	Username   string
	Token      string
}

// AdmissionError rejects a socket; Code and Reason go into the close frame
type AdmissionError struct {
	Code   int
	Reason string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected (%d): %s", e.Code, e.Reason)
}

func reject(reason string) *AdmissionError {
	return &AdmissionError{Code: models.ClosePolicyViolation, Reason: reason}
}

// AccessGateway validates every new socket with the backend before it is
// allowed to attach. It fails closed: a backend error is a denial.
type AccessGateway struct {
	validator AccessValidator
	tokens    *TokenTable
}

func NewAccessGateway(validator AccessValidator, tokens *TokenTable) *AccessGateway {
	return &AccessGateway{validator: validator, tokens: tokens}
}

// Admit decides on a connection to rawURL. token overrides the URL's token
// query parameter when non-empty. Rejections are *AdmissionError.
func (g *AccessGateway) Admit(ctx context.Context, rawURL, token string) (*Admission, error) {
	ctx, span := middleware.StartSpan(ctx, "Gateway.Admit")
	defer span.End()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, g.deny("unknown", reject("Invalid connection URL"))
	}
	if token == "" {
		token = u.Query().Get("token")
	}
	if token == "" {
		return nil, g.deny("unknown", reject("Token is required"))
	}

	target := strings.Trim(u.Path, "/")
	if target == NotificationsPath {
		return g.admitNotification(ctx, token)
	}
	if target == "" {
		return nil, g.deny(AdmitDocument.String(), reject("DocumentId is required"))
	}

	span.SetAttributes(attribute.String("document.id", target))
	access, err := g.validator.ValidateDocumentAccess(ctx, token, target)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("⚠️  Access validation failed for document %s: %v", target, err)
		return nil, g.deny(AdmitDocument.String(), reject("Access denied"))
	}
	if !access.HasAccess {
		return nil, g.deny(AdmitDocument.String(), reject("Access denied"))
	}

	g.tokens.Set(target, token)
	admissionsTotal.WithLabelValues(AdmitDocument.String(), "accepted").Inc()

	return &Admission{
		Kind:       AdmitDocument,
		DocumentID: target,
		UserID:     access.UserID,
		Username:   access.Username,
		Token:      token,
	}, nil
}

func (g *AccessGateway) admitNotification(ctx context.Context, token string) (*Admission, error) {
	user, err := g.validator.ValidateUserToken(ctx, token)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("⚠️  Token validation failed for notification socket: %v", err)
		return nil, g.deny(AdmitNotification.String(), reject("Invalid token"))
	}
	if !user.Valid || user.UserID == "" {
		return nil, g.deny(AdmitNotification.String(), reject("Invalid token"))
	}

	admissionsTotal.WithLabelValues(AdmitNotification.String(), "accepted").Inc()
	return &Admission{
		Kind:     AdmitNotification,
		UserID:   user.UserID,
		Username: user.Username,
		Token:    token,
	}, nil
}

func (g *AccessGateway) deny(kind string, err *AdmissionError) error {
	admissionsTotal.WithLabelValues(kind, "rejected").Inc()
	return err
}
