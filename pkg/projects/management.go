package projects

//SettingsStore persists the dashboard settings and the command history
type SettingsStore interface {
	//LoadSettings returns the saved configuration, ErrNoSettings when nothing was saved yet
	LoadSettings() (*Config, error)
	SaveSettings(cfg Config) error
	SaveCommand(rec CommandRecord) error
	//ListCommands returns the latest commands first, all of them when limit <= 0
	ListCommands(limit int) ([]CommandRecord, error)
	Close() error
}
