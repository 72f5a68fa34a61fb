package types

// CurrentStorageVersion is the schema version written by this build. On
// load, a lower version triggers a migration before the state is used.
const CurrentStorageVersion = 1

// PersonaRecord bundles a Persona with its append-only message log, the
// unit the storage layer persists together.
type PersonaRecord struct {
	Entity   Persona   `json:"entity"`
	Messages []Message `json:"messages"`
}

// StorageState is the full serialized shape of one profile: the root
// envelope the Storage contract loads and saves atomically.
type StorageState struct {
	Version  int                      `json:"version"`
	Human    Human                    `json:"human"`
	Personas map[string]PersonaRecord `json:"personas"`
	Queue    []LLMRequest             `json:"queue"`
	Settings map[string]any           `json:"settings"`
}

// NewStorageState returns an empty state seeded with the built-in Ei
// persona, matching the "Ei always exists" invariant.
func NewStorageState() *StorageState {
	ei := NewEiPersona()
	return &StorageState{
		Version: CurrentStorageVersion,
		Human: Human{Settings: HumanSettings{
			Providers:     map[string]ProviderAccount{},
			DefaultModels: map[string]string{},
		}},
		Personas: map[string]PersonaRecord{
			ei.ID: {Entity: *ei},
		},
		Queue:    nil,
		Settings: map[string]any{},
	}
}
