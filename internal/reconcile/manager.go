package reconcile

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"khata-system/internal/store"
)

// Manager keeps one live Session per shop for the HTTP layer. Sessions
// start lazily on first access and stay subscribed until released.
type Manager struct {
	store            store.Store
	salesPageSize    int
	paymentsPageSize int
	log              *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(st store.Store, salesPageSize, paymentsPageSize int, log *logrus.Logger) *Manager {
	return &Manager{
		store:            st,
		salesPageSize:    salesPageSize,
		paymentsPageSize: paymentsPageSize,
		log:              log,
		sessions:         map[string]*Session{},
	}
}

func (m *Manager) Session(ctx context.Context, shopID string) (*Session, error) {
	m.mu.Lock()
	if session, ok := m.sessions[shopID]; ok {
		m.mu.Unlock()
		return session, nil
	}
	session := NewSession(m.store, shopID, m.salesPageSize, m.paymentsPageSize, m.log)
	m.sessions[shopID] = session
	m.mu.Unlock()

	if err := session.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, shopID)
		m.mu.Unlock()
		return nil, err
	}
	return session, nil
}

// Release closes the shop's session, if any. The next access starts a
// fresh one with clean pagination state.
func (m *Manager) Release(shopID string) {
	m.mu.Lock()
	session, ok := m.sessions[shopID]
	delete(m.sessions, shopID)
	m.mu.Unlock()
	if ok {
		session.Close()
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()
	for _, session := range sessions {
		session.Close()
	}
}
