package store

import "github.com/meridiandb/meridian/pkg/types"

// ReadSchema derives the live schema from a group's tables, binding each
// object schema's table index and each property's column index cache.
func ReadSchema(g *Group) types.Schema {
	objects := make([]types.ObjectSchema, 0, len(g.Tables))
	for ti, t := range g.Tables {
		os := types.ObjectSchema{
			Name:       t.Name,
			PrimaryKey: t.PrimaryKey,
			TableIndex: ti,
			Properties: make([]types.Property, 0, len(t.Columns)),
		}
		for ci, c := range t.Columns {
			p := types.Property{
				Name:        c.Name,
				Type:        c.Type,
				Nullable:    c.Nullable,
				Indexed:     c.Indexed,
				IsPrimary:   c.Name == t.PrimaryKey && t.PrimaryKey != "",
				TableColumn: ci,
			}
			if c.Target >= 0 && c.Target < len(g.Tables) {
				p.ObjectType = g.Tables[c.Target].Name
			}
			os.Properties = append(os.Properties, p)
		}
		objects = append(objects, os)
	}
	schema := types.NewSchema(objects)
	// NewSchema sorts by name; rebind table indexes afterwards.
	for i := range schema {
		schema[i].TableIndex = g.TableByName(schema[i].Name)
	}
	return schema
}
