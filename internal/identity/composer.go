package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/datakite/steward/pkg/errors"
	"github.com/datakite/steward/pkg/logger"
	"github.com/datakite/steward/pkg/metrics"
)

// Composer builds the effective credential for one inbound call by combining
// the long-lived service credential with an optional caller credential.
type Composer struct {
	tokenPath string
	log       *zap.Logger
}

// NewComposer constructs a Composer reading the service credential from the
// provided token file. The file is re-read per call because the platform
// rotates it in place.
func NewComposer(tokenPath string) (*Composer, error) {
	tokenPath = strings.TrimSpace(tokenPath)
	if tokenPath == "" {
		return nil, errors.New("identity: token path is required")
	}
	return &Composer{
		tokenPath: tokenPath,
		log:       logger.WithModule("identity"),
	}, nil
}

// Compose derives the request principal. With no caller token the request runs
// with the service's own rights; with one, the downstream engine is told to
// act as the caller over the service's channel. A missing or unreadable
// service credential fails the whole call closed.
func (c *Composer) Compose(user, role, callerToken string) (Principal, error) {
	serviceToken, err := c.serviceToken()
	if err != nil {
		return Principal{}, apperrors.ErrIdentityUnavailable.WithInternal(err)
	}

	p := Principal{
		Token:        serviceToken,
		ServiceToken: serviceToken,
		User:         strings.TrimSpace(user),
		Role:         role,
	}

	callerToken = strings.TrimSpace(callerToken)
	if callerToken == "" {
		return p, nil
	}

	p.CallerToken = callerToken
	p.Token = serviceToken + "." + callerToken

	// Diagnostic only; must never gate the request.
	c.log.Info("composed delegated credential",
		zap.String("user", p.User),
		zap.String("role", p.Role),
	)
	metrics.DelegatedCalls.Inc()

	return p, nil
}

func (c *Composer) serviceToken() (string, error) {
	raw, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return "", fmt.Errorf("identity: read service token: %w", err)
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errors.New("identity: service token file is empty")
	}
	return token, nil
}
