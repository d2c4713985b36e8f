package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MorseWayne/moto_shop/internal/config"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Host:     "db.internal",
		Port:     3307,
		User:     "shop",
		Password: "s3cret",
		DBName:   "moto_shop",
	}}

	dsn := DSN(cfg)
	assert.Equal(t, "shop:s3cret@tcp(db.internal:3307)/moto_shop?charset=utf8mb4&parseTime=true&loc=UTC&multiStatements=true", dsn)
}

func TestOpen_UnreachableHost(t *testing.T) {
	_, err := Open("shop:pw@tcp(127.0.0.1:1)/moto_shop?timeout=200ms", nil)
	assert.Error(t, err)
}
