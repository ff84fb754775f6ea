package store

// partitionSchema creates one daily partition. %[1]s is the table name and
// %[2]s the dialect's id column definition.
const partitionSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	%[2]s,
	client_reference TEXT NOT NULL,
	client_name TEXT,
	instrument_isin TEXT NOT NULL CHECK (length(instrument_isin) = 12),
	instrument_name TEXT,
	instrument_code TEXT,
	blocked_quantity DECIMAL(15,4) NOT NULL DEFAULT 0 CHECK (blocked_quantity >= 0),
	pending_buy_quantity DECIMAL(15,4) NOT NULL DEFAULT 0 CHECK (pending_buy_quantity >= 0),
	pending_sell_quantity DECIMAL(15,4) NOT NULL DEFAULT 0 CHECK (pending_sell_quantity >= 0),
	total_position DECIMAL(15,4) CHECK (total_position IS NULL OR total_position >= 0),
	saleable_quantity DECIMAL(15,4) NOT NULL DEFAULT 0 CHECK (saleable_quantity >= 0),
	source_system TEXT NOT NULL,
	file_name TEXT NOT NULL,
	record_date DATE NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const partitionIndex = `CREATE INDEX IF NOT EXISTS %[1]s_source_file_idx ON %[1]s (source_system, file_name)`

// recordColumns are the canonical columns in insert and select order.
var recordColumns = []string{
	"client_reference",
	"client_name",
	"instrument_isin",
	"instrument_name",
	"instrument_code",
	"blocked_quantity",
	"pending_buy_quantity",
	"pending_sell_quantity",
	"total_position",
	"saleable_quantity",
	"source_system",
	"file_name",
	"record_date",
}
