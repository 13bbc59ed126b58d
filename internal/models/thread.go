package models

import (
	"github.com/cloudwego/eino/schema"
)

// ThreadEntry is one turn inside a conversation thread.
type ThreadEntry struct {
	Role      schema.RoleType `json:"role"`
	Content   string          `json:"content"`
	Timestamp int64           `json:"timestamp"`
}

type ThreadInfo struct {
	ID             string `json:"id"`
	CreatedAt      int64  `json:"created_at"`
	LastAccessedAt int64  `json:"last_accessed_at"`
	Entries        int    `json:"entries"`
}
