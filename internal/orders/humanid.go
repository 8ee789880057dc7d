package orders

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// IDGenerator produces storage ids and buyer-facing order references.
type IDGenerator interface {
	NewID() string
	NewHumanID() string
}

// SnowflakeIDs issues uuid storage ids and snowflake-based human ids
// ("ORD-" + base36), which sort by creation time and fit on a receipt.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs creates a generator for the given snowflake node (0-1023).
func NewSnowflakeIDs(node int64) (*SnowflakeIDs, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &SnowflakeIDs{node: n}, nil
}

func (g *SnowflakeIDs) NewID() string {
	return uuid.New().String()
}

func (g *SnowflakeIDs) NewHumanID() string {
	return "ORD-" + strings.ToUpper(g.node.Generate().Base36())
}
