package apidb

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// SQLiteCache is a read-only local cache of AP records, used as the
// default AP database when no remote lookup service is configured.
// Opened with the `mode=ro` DSN parameter so the core can never write
// through it by accident.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens path read-only. The schema is a single
// `access_points` table matching wifiloc.WifiAccessPoint's fields.
func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&cache=shared", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open AP cache %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping AP cache %s: %w", path, err)
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

const apSelectColumns = `mac_address, latitude, longitude, altitude, has_altitude,
	horizontal_accuracy, vertical_accuracy, has_vertical_accuracy, confidence,
	frequency, vendor, status`

func (c *SQLiteCache) FindByMac(mac string) (wifiloc.WifiAccessPoint, bool, error) {
	row := c.db.QueryRow(`SELECT `+apSelectColumns+` FROM access_points WHERE mac_address = ?`, mac)
	ap, err := scanAP(row)
	if err == sql.ErrNoRows {
		return wifiloc.WifiAccessPoint{}, false, nil
	}
	if err != nil {
		return wifiloc.WifiAccessPoint{}, false, fmt.Errorf("query AP %s: %w", mac, err)
	}
	return ap, true, nil
}

func (c *SQLiteCache) FindByMacs(macs []string) (map[string]wifiloc.WifiAccessPoint, error) {
	result := make(map[string]wifiloc.WifiAccessPoint, len(macs))
	if len(macs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(macs))
	args := make([]interface{}, len(macs))
	for i, mac := range macs {
		placeholders[i] = "?"
		args[i] = mac
	}

	query := `SELECT ` + apSelectColumns + ` FROM access_points WHERE mac_address IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query APs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ap, err := scanAPRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan AP row: %w", err)
		}
		result[ap.MacAddress] = ap
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAP(row scanner) (wifiloc.WifiAccessPoint, error) {
	return scanAPRows(row)
}

func scanAPRows(row scanner) (wifiloc.WifiAccessPoint, error) {
	var ap wifiloc.WifiAccessPoint
	var status string
	err := row.Scan(
		&ap.MacAddress, &ap.Latitude, &ap.Longitude, &ap.Altitude, &ap.HasAltitude,
		&ap.HorizontalAccuracy, &ap.VerticalAccuracy, &ap.HasVerticalAccuracy, &ap.Confidence,
		&ap.Frequency, &ap.Vendor, &status,
	)
	if err != nil {
		return wifiloc.WifiAccessPoint{}, err
	}
	ap.Status = wifiloc.APStatus(status)
	return ap, nil
}
