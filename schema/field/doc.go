// Package field defines the semantic column types understood by porter.
//
// Every column of an entity carries a semantic Type. The type decides how a
// value read from the source engine is normalised before it is written to the
// destination engine, so a row copied from MySQL into PostgreSQL keeps its
// meaning even though both drivers hand out different Go representations:
//
//	field.Convert(field.TypeBool, int64(1))          // true
//	field.Convert(field.TypeTime, []byte("2024-01-02 03:04:05"))
//	field.Convert(field.TypeUUID, []byte{...16 bytes...}) // "xxxxxxxx-xxxx-..."
//
// # Type Names
//
// Entity metadata files name the type of each column. ParseType accepts the
// Go-flavoured names returned by Type.String and the common SQL spellings:
//
//	bool, boolean
//	int, int8, int16, int32, int64, integer, bigint, smallint
//	uint, uint8, uint16, uint32, uint64
//	float32, float64, float, double, real
//	string, text, varchar, char, enum
//	time, time.Time, timestamp, datetime, date
//	json, jsonb, uuid, bytes, binary, blob
//	other, decimal, numeric
//
// Values of TypeOther are transferred using their textual representation.
package field
