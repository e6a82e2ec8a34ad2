package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-marketplace/internal/models"
)

// PostgresStore implements Store on database/sql. The composite operations
// run inside a transaction and take a FOR UPDATE lock on the request row,
// which serializes concurrent acceptances (and match creations) per request.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO requests(id, kind, consumer_id, provider_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, category, price, final_price, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.Kind, r.ConsumerID, r.ProviderID, r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng,
		r.Category, r.Price, r.FinalPrice, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

const requestCols = `id, kind, consumer_id, provider_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, category, price, final_price, status, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (*models.Request, error) {
	var r models.Request
	var providerID sql.NullString
	var finalPrice sql.NullFloat64
	err := row.Scan(&r.ID, &r.Kind, &r.ConsumerID, &providerID,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng,
		&r.Category, &r.Price, &finalPrice, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if providerID.Valid {
		r.ProviderID = &providerID.String
	}
	if finalPrice.Valid {
		r.FinalPrice = &finalPrice.Float64
	}
	return &r, nil
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestCols+` FROM requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) ListOpenRequests(ctx context.Context, kind models.ServiceKind) ([]*models.Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestCols+` FROM requests
		WHERE kind = $1 AND status IN ('pending','searching','bid_received')
		ORDER BY created_at ASC`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateRequestStatus(ctx context.Context, id string, from []models.RequestStatus, to models.RequestStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE requests SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`,
		to, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// distinguish a failed guard from a missing row
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) UpsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error) {
	var out *models.Bid
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		req, err := lockRequest(ctx, tx, b.RequestID)
		if err != nil {
			return err
		}
		if req.ProviderID != nil {
			return ErrRequestAssigned
		}
		if !req.Status.Open() {
			return ErrRequestUnavailable
		}

		now := time.Now()
		row := tx.QueryRowContext(ctx, `
			INSERT INTO bids(id, request_id, provider_id, price, message, status, created_at, updated_at)
			VALUES($1,$2,$3,$4,$5,'pending',$6,$6)
			ON CONFLICT (request_id, provider_id) DO UPDATE
			SET price = EXCLUDED.price, message = EXCLUDED.message, status = 'pending', updated_at = EXCLUDED.updated_at
			RETURNING id, request_id, provider_id, price, message, status, created_at, updated_at`,
			b.ID, b.RequestID, b.ProviderID, b.Price, b.Message, now)
		stored, err := scanBid(row)
		if err != nil {
			return err
		}

		if req.Status == models.RequestPending || req.Status == models.RequestSearching {
			if _, err := tx.ExecContext(ctx, `
				UPDATE requests SET status = 'bid_received', updated_at = NOW() WHERE id = $1`, req.ID); err != nil {
				return err
			}
		}
		out = stored
		return nil
	})
	return out, err
}

func scanBid(row interface{ Scan(...any) error }) (*models.Bid, error) {
	var b models.Bid
	err := row.Scan(&b.ID, &b.RequestID, &b.ProviderID, &b.Price, &b.Message, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const bidCols = `id, request_id, provider_id, price, message, status, created_at, updated_at`

func (p *PostgresStore) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bidCols+` FROM bids WHERE id = $1`, id)
	return scanBid(row)
}

func (p *PostgresStore) ListBidsForRequest(ctx context.Context, requestID string) ([]*models.Bid, error) {
	return p.listBids(ctx, `SELECT `+bidCols+` FROM bids WHERE request_id = $1 ORDER BY created_at ASC`, requestID)
}

func (p *PostgresStore) ListPendingBidsByProvider(ctx context.Context, providerID string) ([]*models.Bid, error) {
	return p.listBids(ctx, `SELECT `+bidCols+` FROM bids WHERE provider_id = $1 AND status = 'pending' ORDER BY created_at ASC`, providerID)
}

func (p *PostgresStore) listBids(ctx context.Context, query string, arg any) ([]*models.Bid, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// lockRequest reads the request row FOR UPDATE so the rest of the transaction
// sees a state no concurrent acceptance can move underneath it.
func lockRequest(ctx context.Context, tx *sql.Tx, id string) (*models.Request, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+requestCols+` FROM requests WHERE id = $1 FOR UPDATE`, id)
	return scanRequest(row)
}

func (p *PostgresStore) AcceptBid(ctx context.Context, bidID string) (*Acceptance, error) {
	var out *Acceptance
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+bidCols+` FROM bids WHERE id = $1`, bidID)
		bid, err := scanBid(row)
		if err != nil {
			return err
		}

		req, err := lockRequest(ctx, tx, bid.RequestID)
		if err != nil {
			return err
		}
		if req.ProviderID != nil || req.Status == models.RequestAccepted {
			return ErrRequestAssigned
		}
		if req.Status != models.RequestSearching && req.Status != models.RequestBidReceived {
			return ErrRequestUnavailable
		}

		// re-read the bid after the lock; a racing acceptance may have
		// rejected it between our first read and the lock
		row = tx.QueryRowContext(ctx, `SELECT `+bidCols+` FROM bids WHERE id = $1`, bidID)
		bid, err = scanBid(row)
		if err != nil {
			return err
		}
		if bid.Status != models.BidPending {
			return ErrBidNotPending
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE bids SET status = 'accepted', updated_at = NOW() WHERE id = $1`, bid.ID); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			UPDATE bids SET status = 'rejected', updated_at = NOW()
			WHERE request_id = $1 AND id <> $2 AND status = 'pending'
			RETURNING id`, bid.RequestID, bid.ID)
		if err != nil {
			return err
		}
		var rejected []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			rejected = append(rejected, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		row = tx.QueryRowContext(ctx, `
			UPDATE requests SET provider_id = $1, final_price = $2, status = 'accepted', updated_at = NOW()
			WHERE id = $3
			RETURNING `+requestCols, bid.ProviderID, bid.Price, bid.RequestID)
		updated, err := scanRequest(row)
		if err != nil {
			return err
		}

		bid.Status = models.BidAccepted
		out = &Acceptance{Bid: bid, Request: updated, Rejected: rejected}
		return nil
	})
	return out, err
}

func (p *PostgresStore) CreateCityRequest(ctx context.Context, r *models.CityToCityRequest) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM city_requests WHERE user_id = $1 AND status IN ('searching','matched'))`,
			r.UserID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return ErrActiveCityRequest
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO city_requests(id, user_id, user_type, from_city_id, to_city_id, travel_date, status,
				number_of_seats, max_bags, price_per_passenger, needed_seats, user_bags, willing_to_pay, created_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			r.ID, r.UserID, r.UserType, r.FromCityID, r.ToCityID, r.TravelDate, r.Status,
			r.NumberOfSeats, r.MaxBags, r.PricePerPassenger, r.NeededSeats, r.UserBags, r.WillingToPay, r.CreatedAt)
		return err
	})
}

const cityCols = `id, user_id, user_type, from_city_id, to_city_id, travel_date, status, number_of_seats, max_bags, price_per_passenger, needed_seats, user_bags, willing_to_pay, created_at`

func scanCityRequest(row interface{ Scan(...any) error }) (*models.CityToCityRequest, error) {
	var r models.CityToCityRequest
	err := row.Scan(&r.ID, &r.UserID, &r.UserType, &r.FromCityID, &r.ToCityID, &r.TravelDate, &r.Status,
		&r.NumberOfSeats, &r.MaxBags, &r.PricePerPassenger, &r.NeededSeats, &r.UserBags, &r.WillingToPay, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) GetCityRequest(ctx context.Context, id string) (*models.CityToCityRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+cityCols+` FROM city_requests WHERE id = $1`, id)
	return scanCityRequest(row)
}

func (p *PostgresStore) ActiveCityRequestByUser(ctx context.Context, userID string) (*models.CityToCityRequest, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+cityCols+` FROM city_requests
		WHERE user_id = $1 AND status IN ('searching', 'matched')
		ORDER BY created_at DESC LIMIT 1`, userID)
	return scanCityRequest(row)
}

func (p *PostgresStore) SearchCityRequests(ctx context.Context, q CitySearch) ([]*models.CityToCityRequest, error) {
	exclude := q.ExcludeRequestIDs
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+cityCols+` FROM city_requests
		WHERE status = 'searching'
		  AND user_type = $1
		  AND user_id <> $2
		  AND from_city_id = $3 AND to_city_id = $4
		  AND travel_date >= $5 AND travel_date <= $6
		  AND NOT (id = ANY($7))
		ORDER BY created_at DESC`,
		q.UserType, q.ExcludeUserID, q.FromCityID, q.ToCityID, q.DayStart, q.DayEnd, pq.Array(exclude))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CityToCityRequest
	for rows.Next() {
		r, err := scanCityRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateCityRequestStatus(ctx context.Context, id string, from []models.CityStatus, to models.CityStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE city_requests SET status = $1 WHERE id = $2 AND status = ANY($3)`,
		to, id, pq.Array(cityStatusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM city_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) CreateMatch(ctx context.Context, driverRequestID, passengerRequestID string) (*MatchResult, error) {
	var out *MatchResult
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		// locking the driver row serializes capacity checks per driver,
		// closing the count/insert race
		row := tx.QueryRowContext(ctx, `SELECT `+cityCols+` FROM city_requests WHERE id = $1 FOR UPDATE`, driverRequestID)
		driver, err := scanCityRequest(row)
		if err != nil {
			return err
		}
		if driver.Status != models.CitySearching {
			return ErrCapacityFull
		}

		var active int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM city_matches WHERE driver_request_id = $1 AND status = 'active'`,
			driverRequestID).Scan(&active); err != nil {
			return err
		}
		if driver.NumberOfSeats > 0 && active >= driver.NumberOfSeats {
			return ErrCapacityFull
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE city_requests SET status = 'matched' WHERE id = $1 AND status = 'searching'`,
			passengerRequestID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrPassengerUnavailable
		}

		match := &models.CityToCityMatch{
			ID:                 newStoreID(),
			DriverRequestID:    driverRequestID,
			PassengerRequestID: passengerRequestID,
			Status:             models.MatchActive,
			CreatedAt:          time.Now(),
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO city_matches(id, driver_request_id, passenger_request_id, status, created_at)
			VALUES($1,$2,$3,'active',$4)`,
			match.ID, match.DriverRequestID, match.PassengerRequestID, match.CreatedAt); err != nil {
			return err
		}

		active++
		full := driver.NumberOfSeats > 0 && active >= driver.NumberOfSeats
		if full {
			if _, err := tx.ExecContext(ctx, `
				UPDATE city_requests SET status = 'matched' WHERE id = $1`, driverRequestID); err != nil {
				return err
			}
		}
		out = &MatchResult{Match: match, ActiveMatches: active, DriverFull: full}
		return nil
	})
	return out, err
}

const matchCols = `id, driver_request_id, passenger_request_id, status, created_at`

func scanMatch(row interface{ Scan(...any) error }) (*models.CityToCityMatch, error) {
	var m models.CityToCityMatch
	err := row.Scan(&m.ID, &m.DriverRequestID, &m.PassengerRequestID, &m.Status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *PostgresStore) GetMatch(ctx context.Context, id string) (*models.CityToCityMatch, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+matchCols+` FROM city_matches WHERE id = $1`, id)
	return scanMatch(row)
}

func (p *PostgresStore) ListMatchesForRequest(ctx context.Context, requestID string) ([]*models.CityToCityMatch, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+matchCols+` FROM city_matches
		WHERE driver_request_id = $1 OR passenger_request_id = $1
		ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CityToCityMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountActiveMatches(ctx context.Context, driverRequestID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM city_matches WHERE driver_request_id = $1 AND status = 'active'`,
		driverRequestID).Scan(&n)
	return n, err
}

func (p *PostgresStore) CancelMatch(ctx context.Context, matchID string) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+matchCols+` FROM city_matches WHERE id = $1 FOR UPDATE`, matchID)
		m, err := scanMatch(row)
		if err != nil {
			return err
		}
		if m.Status != models.MatchActive {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE city_matches SET status = 'cancelled' WHERE id = $1`, m.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE city_requests SET status = 'searching' WHERE id = $1 AND status = 'matched'`,
			m.PassengerRequestID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE city_requests SET status = 'searching' WHERE id = $1 AND status = 'matched'`,
			m.DriverRequestID)
		return err
	})
}

func (p *PostgresStore) CompleteTrip(ctx context.Context, driverRequestID string) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+cityCols+` FROM city_requests WHERE id = $1 FOR UPDATE`, driverRequestID)
		if _, err := scanCityRequest(row); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE city_requests SET status = 'completed'
			WHERE id IN (
				SELECT passenger_request_id FROM city_matches
				WHERE driver_request_id = $1 AND status = 'active'
			) AND status IN ('searching','matched')`, driverRequestID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE city_matches SET status = 'completed'
			WHERE driver_request_id = $1 AND status = 'active'`, driverRequestID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE city_requests SET status = 'completed' WHERE id = $1`, driverRequestID)
		return err
	})
}

func (p *PostgresStore) PutProvider(ctx context.Context, pr *models.Provider) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO providers(id, kind, verified, online, categories, rating)
		VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET kind = EXCLUDED.kind, verified = EXCLUDED.verified, online = EXCLUDED.online,
		    categories = EXCLUDED.categories, rating = EXCLUDED.rating`,
		pr.ID, pr.Kind, pr.Verified, pr.Online, pq.Array(pr.Categories), pr.Rating)
	return err
}

func (p *PostgresStore) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	var pr models.Provider
	err := p.db.QueryRowContext(ctx, `
		SELECT id, kind, verified, online, categories, rating FROM providers WHERE id = $1`, id).
		Scan(&pr.ID, &pr.Kind, &pr.Verified, &pr.Online, pq.Array(&pr.Categories), &pr.Rating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func statusStrings(in []models.RequestStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func cityStatusStrings(in []models.CityStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
