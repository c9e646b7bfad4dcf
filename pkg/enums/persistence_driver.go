package enums

import "fmt"

// PersistenceDriver enumerates the storage backends for the anonymous cart.
type PersistenceDriver string

const (
	PersistenceDriverFile     PersistenceDriver = "file"
	PersistenceDriverSQLite   PersistenceDriver = "sqlite"
	PersistenceDriverPostgres PersistenceDriver = "postgres"
	PersistenceDriverRedis    PersistenceDriver = "redis"
	PersistenceDriverMemory   PersistenceDriver = "memory"
)

var validPersistenceDrivers = []PersistenceDriver{
	PersistenceDriverFile,
	PersistenceDriverSQLite,
	PersistenceDriverPostgres,
	PersistenceDriverRedis,
	PersistenceDriverMemory,
}

// String implements fmt.Stringer.
func (p PersistenceDriver) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PersistenceDriver) IsValid() bool {
	for _, candidate := range validPersistenceDrivers {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePersistenceDriver converts raw input into a PersistenceDriver.
func ParsePersistenceDriver(value string) (PersistenceDriver, error) {
	for _, candidate := range validPersistenceDrivers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid persistence driver %q", value)
}
