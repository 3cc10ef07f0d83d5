// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/jobdigest/internal/catalog"
	"github.com/tomtom215/jobdigest/internal/logging"
)

// DuckDBSource reads the ingestion-produced datasets from a DuckDB file.
//
// Expected schema (owned by ingestion, read-only here):
//
//	items(id, advertiser_id, region_code, locality_code, category_codes,
//	      employment_type, salary_type, wage_min, wage_max, fee, title,
//	      advertiser_name, description, category_text, compensation,
//	      hours, posted_at, expires_at)
//	users(id, email)
//	user_profiles(user_id, region_freq, locality_freq, category_freq,
//	      employment_freq, advertiser_freq, salary_min, salary_avg,
//	      salary_max, salary_type, action_count, rebuilt_at)
//	actions(user_id, item_id, advertiser_id, kind, occurred_at)
//	keywords(text, volume_tier, intent)
//
// Frequency columns carry the legacy "code:count,..." encoding and are
// decoded through catalog.ParseFreqMap; a row that fails to decode makes
// Profile return an error so scoring can fall back to the neutral default.
type DuckDBSource struct {
	conn *sql.DB
}

// OpenDuckDB opens the dataset database read-only.
func OpenDuckDB(path string) (*DuckDBSource, error) {
	conn, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping duckdb %s: %w", path, err)
	}
	return &DuckDBSource{conn: conn}, nil
}

// Close releases the underlying connection.
func (d *DuckDBSource) Close() error {
	return d.conn.Close()
}

// ItemIDBounds implements Source.
func (d *DuckDBSource) ItemIDBounds(ctx context.Context) (int64, int64, bool, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT MIN(id), MAX(id) FROM items WHERE posted_at <= now() AND (expires_at IS NULL OR expires_at > now())`)
	var lo, hi sql.NullInt64
	if err := row.Scan(&lo, &hi); err != nil {
		return 0, 0, false, fmt.Errorf("item id bounds: %w", err)
	}
	if !lo.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}

// ItemRange implements Source.
func (d *DuckDBSource) ItemRange(ctx context.Context, lo, hi int64) ([]catalog.Item, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, advertiser_id, region_code, locality_code, category_codes,
		       employment_type, salary_type, wage_min, wage_max, fee,
		       title, advertiser_name, description, category_text,
		       compensation, hours, posted_at, expires_at
		FROM items
		WHERE id >= ? AND id < ?
		  AND posted_at <= now() AND (expires_at IS NULL OR expires_at > now())
		ORDER BY id`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("item range [%d,%d): %w", lo, hi, err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		var it catalog.Item
		var categories sql.NullString
		var expires sql.NullTime
		var locality, employment, salaryType sql.NullString
		var desc, catText, comp, hours sql.NullString
		if err := rows.Scan(&it.ID, &it.AdvertiserID, &it.RegionCode, &locality,
			&categories, &employment, &salaryType, &it.WageMin, &it.WageMax,
			&it.Fee, &it.Title, &it.AdvertiserName, &desc, &catText,
			&comp, &hours, &it.PostedAt, &expires); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.LocalityCode = locality.String
		it.EmploymentType = employment.String
		it.SalaryType = salaryType.String
		it.Description = desc.String
		it.CategoryText = catText.String
		it.Compensation = comp.String
		it.Hours = hours.String
		if categories.Valid && categories.String != "" {
			it.CategoryCodes = strings.Split(categories.String, ",")
		}
		if expires.Valid {
			it.ExpiresAt = expires.Time
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UserIDBounds implements Source.
func (d *DuckDBSource) UserIDBounds(ctx context.Context) (int64, int64, bool, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT MIN(id), MAX(id) FROM users`)
	var lo, hi sql.NullInt64
	if err := row.Scan(&lo, &hi); err != nil {
		return 0, 0, false, fmt.Errorf("user id bounds: %w", err)
	}
	if !lo.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}

// UserRange implements Source.
func (d *DuckDBSource) UserRange(ctx context.Context, lo, hi int64) ([]catalog.User, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, email FROM users WHERE id >= ? AND id < ? ORDER BY id`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("user range [%d,%d): %w", lo, hi, err)
	}
	defer rows.Close()

	var users []catalog.User
	for rows.Next() {
		var u catalog.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Email = email.String
		users = append(users, u)
	}
	return users, rows.Err()
}

// Profile implements Source.
func (d *DuckDBSource) Profile(ctx context.Context, userID int64) (*catalog.UserProfile, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT user_id, region_freq, locality_freq, category_freq,
		       employment_freq, advertiser_freq, salary_min, salary_avg,
		       salary_max, salary_type, action_count, rebuilt_at
		FROM user_profiles WHERE user_id = ?`, userID)

	var p catalog.UserProfile
	var region, locality, category, employment, advertiser sql.NullString
	var salaryType sql.NullString
	err := row.Scan(&p.UserID, &region, &locality, &category, &employment,
		&advertiser, &p.SalaryMin, &p.SalaryAvg, &p.SalaryMax,
		&salaryType, &p.ActionCount, &p.RebuiltAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile %d: %w", userID, err)
	}
	p.SalaryType = salaryType.String

	for _, col := range []struct {
		name string
		raw  sql.NullString
		dst  *catalog.FreqMap
	}{
		{"region_freq", region, &p.RegionFreq},
		{"locality_freq", locality, &p.LocalityFreq},
		{"category_freq", category, &p.CategoryFreq},
		{"employment_freq", employment, &p.EmploymentFreq},
		{"advertiser_freq", advertiser, &p.AdvertiserFreq},
	} {
		if !col.raw.Valid {
			continue
		}
		fm, err := catalog.ParseFreqMap(col.raw.String)
		if err != nil {
			return nil, fmt.Errorf("profile %d column %s: %w", userID, col.name, err)
		}
		*col.dst = fm
	}
	return &p, nil
}

// ActionsSince implements Source.
func (d *DuckDBSource) ActionsSince(ctx context.Context, since time.Time) ([]catalog.Action, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT user_id, item_id, advertiser_id, kind, occurred_at
		FROM actions WHERE occurred_at >= ? ORDER BY occurred_at`, since)
	if err != nil {
		return nil, fmt.Errorf("actions since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var actions []catalog.Action
	for rows.Next() {
		var a catalog.Action
		var kind string
		if err := rows.Scan(&a.UserID, &a.ItemID, &a.AdvertiserID, &kind, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		switch kind {
		case "apply":
			a.Kind = catalog.ActionApply
		default:
			a.Kind = catalog.ActionView
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Keywords implements Source.
func (d *DuckDBSource) Keywords(ctx context.Context) ([]catalog.Keyword, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT text, volume_tier, intent FROM keywords ORDER BY text`)
	if err != nil {
		return nil, fmt.Errorf("keywords: %w", err)
	}
	defer rows.Close()

	var kws []catalog.Keyword
	for rows.Next() {
		var kw catalog.Keyword
		var intent string
		if err := rows.Scan(&kw.Text, &kw.VolumeTier, &intent); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		switch intent {
		case "transactional":
			kw.Intent = catalog.IntentTransactional
		case "navigational":
			kw.Intent = catalog.IntentNavigational
		default:
			kw.Intent = catalog.IntentInformational
		}
		kws = append(kws, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(kws) == 0 {
		logging.Warn().Msg("keyword corpus is empty; relevance scores will be zero")
	}
	return kws, nil
}
