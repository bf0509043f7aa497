package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/bimestre-scheduler-api/pkg/config"
)

func TestDSNQuotesAndSkipsEmptyValues(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "scheduler",
		Password: "it's secret",
		Name:     "bimestre_scheduler",
	})

	assert.Equal(t, `host=db port=5432 user=scheduler password='it\'s secret' dbname=bimestre_scheduler application_name=bimestre-scheduler connect_timeout=10`, dsn)
}
