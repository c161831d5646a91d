package migrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		expDeps []string
		expBody string
		expErr  string
	}{
		{
			name:    "ok/no_header",
			text:    "CREATE TABLE a (id INT);\n",
			expBody: "CREATE TABLE a (id INT);\n",
		},
		{
			name: "ok/empty",
		},
		{
			name:    "ok/yaml_flow",
			text:    "-- monarch: {depends_on: [users/001-create.sql, billing/002-plans.sql]}\nCREATE TABLE a (id INT);\n",
			expDeps: []string{"users/001-create.sql", "billing/002-plans.sql"},
			expBody: "CREATE TABLE a (id INT);\n",
		},
		{
			name:    "ok/json",
			text:    `-- monarch: {"depends_on": ["a.sql", "b/c.sql"]}` + "\nSELECT 1;",
			expDeps: []string{"a.sql", "b/c.sql"},
			expBody: "SELECT 1;",
		},
		{
			name:    "ok/leading_blank_lines",
			text:    "\n  \n-- monarch: {depends_on: [a.sql]}\nSELECT 1;",
			expDeps: []string{"a.sql"},
			expBody: "SELECT 1;",
		},
		{
			name:    "ok/crlf",
			text:    "-- monarch: {depends_on: [a.sql]}\r\nSELECT 1;\r\n",
			expDeps: []string{"a.sql"},
			expBody: "SELECT 1;\r\n",
		},
		{
			name:    "ok/bom",
			text:    "\ufeff-- monarch: {depends_on: [a.sql]}\nSELECT 1;",
			expDeps: []string{"a.sql"},
			expBody: "SELECT 1;",
		},
		{
			name:    "ok/empty_declaration",
			text:    "-- monarch:\nSELECT 1;",
			expBody: "SELECT 1;",
		},
		{
			name:    "ok/empty_mapping",
			text:    "-- monarch: {}\nSELECT 1;",
			expBody: "SELECT 1;",
		},
		{
			name:    "ok/header_only",
			text:    "-- monarch: {depends_on: [a.sql]}",
			expDeps: []string{"a.sql"},
		},
		{
			name:    "ok/not_first_line",
			text:    "-- create users\n-- monarch: {depends_on: [a.sql]}\nSELECT 1;",
			expBody: "-- create users\n-- monarch: {depends_on: [a.sql]}\nSELECT 1;",
		},
		{
			name:    "ok/plain_comment",
			text:    "-- monarch manages this schema\nSELECT 1;",
			expBody: "-- monarch manages this schema\nSELECT 1;",
		},
		{
			name:   "err/marker_missing_space",
			text:   "--monarch: {depends_on: [a.sql]}\nSELECT 1;",
			expErr: "malformed header line '--monarch: {depends_on: [a.sql]}'; headers must start with '-- monarch:'",
		},
		{
			name:   "err/marker_case",
			text:   "-- Monarch: {depends_on: [a.sql]}\nSELECT 1;",
			expErr: "malformed header line",
		},
		{
			name:   "err/marker_extra_space",
			text:   "--   monarch: {depends_on: [a.sql]}\nSELECT 1;",
			expErr: "malformed header line",
		},
		{
			name:   "err/unknown_key",
			text:   "-- monarch: {depend_on: [a.sql]}\nSELECT 1;",
			expErr: "field depend_on not found",
		},
		{
			name:   "err/duplicate_key",
			text:   "-- monarch: {depends_on: [a.sql], depends_on: [b.sql]}\nSELECT 1;",
			expErr: "already defined",
		},
		{
			name:   "err/malformed",
			text:   "-- monarch: {depends_on: [a.sql}\nSELECT 1;",
			expErr: "invalid header declaration",
		},
		{
			name:   "err/not_a_list",
			text:   "-- monarch: {depends_on: a.sql}\nSELECT 1;",
			expErr: "cannot unmarshal",
		},
		{
			name:   "err/scalar",
			text:   "-- monarch: a.sql\nSELECT 1;",
			expErr: "cannot unmarshal",
		},
		{
			name:   "err/empty_id",
			text:   `-- monarch: {depends_on: [""]}`,
			expErr: "migration identifier is empty",
		},
		{
			name:   "err/repeated_id",
			text:   "-- monarch: {depends_on: [a.sql, a.sql]}",
			expErr: "'a.sql' is listed more than once",
		},
		{
			name:   "err/absolute_id",
			text:   "-- monarch: {depends_on: [/a.sql]}",
			expErr: "'/a.sql' must be relative to the migrations directory",
		},
		{
			name:   "err/outside_root",
			text:   "-- monarch: {depends_on: [../a.sql]}",
			expErr: "'../a.sql' points outside of the migrations directory",
		},
		{
			name:   "err/not_canonical",
			text:   "-- monarch: {depends_on: [users/./a.sql]}",
			expErr: "'users/./a.sql' is not a canonical path, use 'users/a.sql'",
		},
		{
			name:   "err/backslash",
			text:   `-- monarch: {depends_on: ['users\a.sql']}`,
			expErr: "must use '/' as path separator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hdr, body, err := ParseHeader(tt.text)
			if tt.expErr != "" {
				assert.ErrorContains(t, err, tt.expErr)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.expDeps, hdr.DependsOn)
			assert.Equal(t, tt.expBody, body)
		})
	}
}
