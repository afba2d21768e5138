// Package schema computes the difference between two schemas and applies
// the resulting change list to a live store under a schema-mode policy.
package schema

import (
	"sort"

	"github.com/meridiandb/meridian/pkg/types"
)

// Compare computes the ordered change list taking current toward target.
// Object types present in current but absent from target are left alone;
// the engine never drops a table implicitly.
//
// RemoveProperty changes are moved to the end of the list and sorted by
// descending column index: removing a column shifts every higher-indexed
// column, so removing high-to-low keeps the precomputed indexes valid.
func Compare(current, target types.Schema) []types.SchemaChange {
	var changes []types.SchemaChange
	var removals []types.SchemaChange

	for ti := range target {
		to := &target[ti]
		co := current.Find(to.Name)
		if co == nil {
			changes = append(changes, types.AddTable{Object: to})
			continue
		}

		for pi := range to.Properties {
			tp := &to.Properties[pi]
			cp := co.PropertyForName(tp.Name)
			switch {
			case cp == nil:
				changes = append(changes, types.AddProperty{Object: to, Property: tp})
			case !cp.TypeEqual(tp):
				changes = append(changes, types.ChangePropertyType{
					Object: to, OldProperty: cp, NewProperty: tp})
			default:
				if tp.Nullable && !cp.Nullable {
					changes = append(changes, types.MakePropertyNullable{Object: to, Property: tp})
				} else if !tp.Nullable && cp.Nullable {
					changes = append(changes, types.MakePropertyRequired{Object: to, Property: tp})
				}
				if tp.Indexed && !cp.Indexed {
					changes = append(changes, types.AddIndex{Object: to, Property: tp})
				} else if !tp.Indexed && cp.Indexed {
					changes = append(changes, types.RemoveIndex{Object: to, Property: tp})
				}
			}
		}

		for pi := range co.Properties {
			cp := &co.Properties[pi]
			if to.PropertyForName(cp.Name) == nil {
				removals = append(removals, types.RemoveProperty{Object: to, Property: cp})
			}
		}

		if co.PrimaryKey != to.PrimaryKey {
			changes = append(changes, types.ChangePrimaryKey{
				Object: to, Property: to.PrimaryKeyProperty()})
		}
	}

	sort.SliceStable(removals, func(i, j int) bool {
		a := removals[i].(types.RemoveProperty)
		b := removals[j].(types.RemoveProperty)
		return a.Property.TableColumn > b.Property.TableColumn
	})
	return append(changes, removals...)
}

// NeedsMigration reports whether the change list goes beyond additive table
// and index changes, requiring a version bump and possibly a migration
// callback.
func NeedsMigration(changes []types.SchemaChange) bool {
	for _, c := range changes {
		switch c.(type) {
		case types.AddProperty, types.RemoveProperty, types.ChangePropertyType,
			types.MakePropertyNullable, types.MakePropertyRequired, types.ChangePrimaryKey:
			return true
		}
	}
	return false
}
