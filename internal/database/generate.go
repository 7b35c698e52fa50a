package database

// To regenerate the schema snapshot from the migrations:
//   go generate ./internal/database
// To verify it is current:
//   go run internal/database/tools/generate_schema.go -check

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
