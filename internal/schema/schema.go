// Package schema defines the strictly-typed database schema extracted from an
// ER diagram, along with the JSON Schema contract the extraction model must
// satisfy.
package schema

// ColumnType is the closed set of column types the extraction model may emit.
type ColumnType string

const (
	ColumnTypeUUID      ColumnType = "UUID"
	ColumnTypeText      ColumnType = "TEXT"
	ColumnTypeInteger   ColumnType = "INTEGER"
	ColumnTypeBoolean   ColumnType = "BOOLEAN"
	ColumnTypeTimestamp ColumnType = "TIMESTAMP"
	ColumnTypeJSON      ColumnType = "JSON"
)

// RelationType describes relationship cardinality.
type RelationType string

const (
	RelationOneToOne   RelationType = "1:1"
	RelationOneToMany  RelationType = "1:N"
	RelationManyToMany RelationType = "N:N"
)

// Column is a single table column.
type Column struct {
	Name         string     `json:"name"`
	Type         ColumnType `json:"type"`
	IsPrimaryKey bool       `json:"is_primary_key"`
	IsForeignKey bool       `json:"is_foreign_key"`
}

// Table is a named, ordered collection of columns.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Relationship links two columns by name. Endpoints are free-text references
// and are not checked against the extracted table list.
type Relationship struct {
	FromTable  string       `json:"from_table"`
	FromColumn string       `json:"from_column"`
	ToTable    string       `json:"to_table"`
	ToColumn   string       `json:"to_column"`
	Type       RelationType `json:"type"`
}

// DatabaseSchema is the root extraction result. It lives only for the
// duration of one request/response cycle and is never persisted.
type DatabaseSchema struct {
	Tables        []Table        `json:"tables"`
	Relationships []Relationship `json:"relationships"`
}

// DatabaseSchemaFormat is the JSON Schema for extraction output. The field
// descriptions double as generation rules: they are embedded in the prompt so
// the model is steered toward valid output instead of relying purely on
// post-hoc rejection.
var DatabaseSchemaFormat = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "database_schema",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tables": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name": map[string]any{
								"type":        "string",
								"description": "Table name as written in the diagram",
							},
							"columns": map[string]any{
								"type": "array",
								"items": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"name": map[string]any{
											"type":        "string",
											"description": "Column name as written in the diagram",
										},
										"type": map[string]any{
											"type": "string",
											"enum": []string{"UUID", "TEXT", "INTEGER", "BOOLEAN", "TIMESTAMP", "JSON"},
											"description": "SQL type. CRITICAL RULES: use TEXT for URLs, emails, " +
												"hex colors, names, and keys. Use INTEGER only for counts or numeric IDs.",
										},
										"is_primary_key": map[string]any{
											"type":        "boolean",
											"description": "True when the diagram marks this column as a primary key",
										},
										"is_foreign_key": map[string]any{
											"type":        "boolean",
											"description": "True when this column references another table",
										},
									},
									"required":             []string{"name", "type"},
									"additionalProperties": false,
								},
							},
						},
						"required":             []string{"name", "columns"},
						"additionalProperties": false,
					},
				},
				"relationships": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"from_table":  map[string]any{"type": "string"},
							"from_column": map[string]any{"type": "string"},
							"to_table":    map[string]any{"type": "string"},
							"to_column":   map[string]any{"type": "string"},
							"type": map[string]any{
								"type":        "string",
								"enum":        []string{"1:1", "1:N", "N:N"},
								"description": "Relationship cardinality, defaults to 1:N when unclear",
							},
						},
						"required":             []string{"from_table", "from_column", "to_table", "to_column"},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"tables", "relationships"},
			"additionalProperties": false,
		},
	},
}
