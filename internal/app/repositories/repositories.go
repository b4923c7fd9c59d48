package repositories

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories holds all the repository instances
type Repositories struct {
	ChatRepository ChatRepository
}

// NewRepositories initializes the Postgres backed repositories
func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		ChatRepository: NewChatRepository(db),
	}
}

// NewMemoryRepositories initializes in-process repositories
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		ChatRepository: NewMemoryChatRepository(),
	}
}
