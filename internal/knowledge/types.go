package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// VectorDimension is the embedding width stored in the fragments table. The
// local feature-hash embedder produces this width natively; external
// embedders must be configured to match the schema.
const VectorDimension = 768

// MaxContentBytes bounds a single fragment's text. Document parsing happens
// upstream; anything larger indicates the collaborator failed to chunk.
const MaxContentBytes = 512 * 1024

// Fragment is a unit of ingested document text attached to an agent, used as
// grounding context for replies. Fragments are immutable after creation.
type Fragment struct {
	ID        uuid.UUID `json:"id"`
	AgentID   uuid.UUID `json:"agent_id"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	ByteSize  int       `json:"byte_size"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is the parsed text handed over by the ingestion collaborator.
type Document struct {
	Source  string
	Content string
}

// Result is a single relevance hit.
type Result struct {
	Fragment   Fragment `json:"fragment"`
	Similarity float32  `json:"similarity"`
}
