package persistence

import "trader-bot/internal/models"

// Keys under which the key-value store keeps its records.
const (
	SessionKey  = "demo_trading_session"
	SettingsKey = "bot_trading_settings"
)

// StateRepository defines the interface for key-value persistence of the
// trading session and the runtime settings.
type StateRepository interface {
	// SaveSession atomically saves balance, trades, signals and simulator counters.
	SaveSession(session *models.Session) error

	// LoadSession returns (nil, nil) when no session has been saved.
	LoadSession() (*models.Session, error)

	SaveSettings(settings *models.Settings) error

	// LoadSettings returns (nil, nil) when no settings have been saved.
	LoadSettings() (*models.Settings, error)

	// ClearSession deletes the saved session; settings survive a reset.
	ClearSession() error

	// Close gracefully closes the connection to the database.
	Close() error
}
