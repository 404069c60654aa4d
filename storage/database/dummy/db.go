package dummydb

import (
	"sync"

	"github.com/darasahq/darasa/core/chat"
	"github.com/darasahq/darasa/core/user"
)

type (
	DB struct {
		user *userTable
		chat *chatTables
		pref *prefTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	// chatTables holds every messaging table behind one lock so that
	// multi-table writes (conversation + participants + initial message)
	// stay atomic, matching the transactional repository.
	chatTables struct {
		sync.RWMutex
		conversations map[string]*chat.Conversation
		participants  map[string][]*chat.Participant // by conversation ID
		messages      map[string][]*chat.Message     // by conversation ID, append order
		msgCount      int64
	}

	prefTable struct {
		sync.RWMutex
		table map[[2]string]bool // (userID, category) -> enabled
	}
)

func Open() (*DB, error) {
	db := &DB{
		user: &userTable{table: make(map[string]*user.User)},
		chat: &chatTables{
			conversations: make(map[string]*chat.Conversation),
			participants:  make(map[string][]*chat.Participant),
			messages:      make(map[string][]*chat.Message),
		},
		pref: &prefTable{table: make(map[[2]string]bool)},
	}
	return db, nil
}
