package catalog

import (
	"errors"
	"fmt"
	"os"

	"github.com/BaSui01/eventflow/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SchemaFile 是 YAML schema 文件的顶层结构。
//
//	schemas:
//	  - event: billing.invoice.overdue
//	    level: BUSINESS
//	    domain: billing
//	    visibility: CLUSTER
//	    idempotency_fields: [invoice_id]
//	    lifecycle:
//	      group_fields: [invoice_id]
//	      meaningful_fields: [amount_due]
//	    actionable: true
type SchemaFile struct {
	Schemas []*types.EventSchema `yaml:"schemas"`
}

// ParseSchemas decodes a YAML schema document.
func ParseSchemas(data []byte) ([]*types.EventSchema, error) {
	var f SchemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	for i, s := range f.Schemas {
		if s == nil {
			return nil, fmt.Errorf("schema #%d is empty", i)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Schemas, nil
}

// LoadFile registers every schema in a YAML file. Event types that are
// already registered are skipped. It returns the number of new entries.
func (c *Catalog) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema file: %w", err)
	}
	schemas, err := ParseSchemas(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	added := 0
	for _, s := range schemas {
		err := c.Register(s)
		switch {
		case err == nil:
			added++
		case errors.Is(err, ErrSchemaExists):
			c.logger.Debug("schema already registered, keeping existing entry",
				zap.String("event", s.Event))
		default:
			return added, err
		}
	}

	c.logger.Info("schema file loaded",
		zap.String("path", path),
		zap.Int("declared", len(schemas)),
		zap.Int("added", added))
	return added, nil
}
