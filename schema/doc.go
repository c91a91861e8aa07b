// Package schema groups the packages that describe the entities porter
// migrates.
//
//   - [field]: semantic column types and value normalisation
//   - [load]: reading and writing entity metadata files
//
// Entity metadata is usually produced by "porter inspect" from a live
// database and then edited by hand, for example to mark a reference as
// deferrable or to drop a table from the migration:
//
//	entities:
//	  - name: users
//	    primary_key: [id]
//	    columns:
//	      - {name: id, type: int64}
//	      - {name: manager_id, type: int64, nullable: true}
//	    foreign_keys:
//	      - {column: manager_id, target: users}
package schema
