package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSNWithPassword(t *testing.T) {
	p := Params{User: "party", Pass: "s3cret", Host: "db", Port: "3306", Name: "partyjam"}
	assert.Equal(t,
		"party:s3cret@tcp(db:3306)/partyjam?charset=utf8mb4&parseTime=true&loc=UTC",
		p.DSN())
}

func TestDSNWithoutPassword(t *testing.T) {
	p := Params{User: "party", Host: "127.0.0.1", Port: "3307", Name: "partyjam"}
	assert.Equal(t,
		"party@tcp(127.0.0.1:3307)/partyjam?charset=utf8mb4&parseTime=true&loc=UTC",
		p.DSN())
}
