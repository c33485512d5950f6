package factory

import (
	"time"

	"github.com/mcoot/tilerush/internal/dependencies/mocks"
	"github.com/mcoot/tilerush/internal/model"
	"github.com/mcoot/tilerush/internal/services/auth"
	"github.com/mcoot/tilerush/internal/storage/memory"
	"github.com/mcoot/tilerush/internal/testutil"
)

// TestSecret signs tokens minted by a TestApp
const TestSecret = "tilerush-test-secret"

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock *mocks.MockClock
	Memory    *memory.Storage
	Issuer    *auth.Issuer
}

// NewTestApp creates an App configured for testing with mocked dependencies
func NewTestApp() *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	authCfg := auth.DefaultConfig()
	authCfg.Secret = []byte(TestSecret)
	verifier, err := auth.NewJWTVerifier(authCfg, mockClock)
	if err != nil {
		panic(err)
	}

	issuer, err := auth.NewIssuer(authCfg, mockClock)
	if err != nil {
		panic(err)
	}

	app := newWithDependencies(store, mockClock, verifier, Config{Auth: authCfg}, testutil.NopLogger())

	return &TestApp{
		App:       app,
		MockClock: mockClock,
		Memory:    store,
		Issuer:    issuer,
	}
}

// Token mints a valid token for the given player
func (t *TestApp) Token(username, displayName string) string {
	token, err := t.Issuer.Issue(model.Identity{Username: username, DisplayName: displayName})
	if err != nil {
		panic(err)
	}
	return token
}
