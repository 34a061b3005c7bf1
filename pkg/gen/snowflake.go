package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

func NewNode() (*snowflake.Node, error) {
	// Single-process deployment, node id is fixed.
	return snowflake.NewNode(1)
}
