package gen

import (
	"github.com/bwmarrin/snowflake"
)

type SnowflakeNode struct {
	node *snowflake.Node
}

func NewSnowflakeNode() (*SnowflakeNode, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	return &SnowflakeNode{node: node}, nil
}

func (s *SnowflakeNode) GenerateID() snowflake.ID {
	return s.node.Generate()
}
