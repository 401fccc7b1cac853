package definition

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/vocalis/vocalis/internal/observability"
)

// Store holds the process-wide AgentMap behind an atomic pointer. Readers
// never block; a reload swaps the whole map at once. Sessions keep the
// AgentDefinition they are bound to until their next hand-off evaluation.
type Store struct {
	dir     string
	current atomic.Pointer[AgentMap]
}

// NewStore loads the definition directory and returns a serving store.
func NewStore(dir string) (*Store, error) {
	m, err := Load(dir)
	if err != nil {
		return nil, err
	}

	s := &Store{dir: dir}
	s.current.Store(m)
	return s, nil
}

// Current returns the active AgentMap. Never nil after NewStore succeeds.
func (s *Store) Current() *AgentMap {
	return s.current.Load()
}

// Dir returns the definition directory this store serves from.
func (s *Store) Dir() string {
	return s.dir
}

// Reload re-reads the definition directory. A set that fails validation is
// rejected wholesale and the active map keeps serving.
func (s *Store) Reload() error {
	m, err := Load(s.dir)
	if err != nil {
		observability.RecordDefinitionReload(false)
		log.Warn().Err(err).Str("dir", s.dir).Msg("Definition reload rejected, keeping previous map")
		return err
	}

	s.current.Store(m)
	observability.RecordDefinitionReload(true)
	log.Info().Str("dir", s.dir).Int("agents", len(m.Agents())).Msg("Definition reload applied")
	return nil
}
