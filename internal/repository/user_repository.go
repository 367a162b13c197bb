package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/cohort-portal-api/internal/models"
)

// IsUniqueViolation reports whether the error is a Postgres unique-index
// violation. Uniqueness (user email, project title) is enforced at the store
// so concurrent writers resolve to exactly one winner.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

const userColumns = `id, email, password_hash, google_id, full_name, picture, role, verified, otp_code, otp_expires,
	discipline, batch, roll_no, phone_number, semester, date_of_joining, created_at, updated_at`

// userRow is the flat scan target for the users table; profile columns are
// folded into models.User.Profile for students.
type userRow struct {
	ID            string         `db:"id"`
	Email         string         `db:"email"`
	PasswordHash  sql.NullString `db:"password_hash"`
	GoogleID      sql.NullString `db:"google_id"`
	FullName      sql.NullString `db:"full_name"`
	Picture       sql.NullString `db:"picture"`
	Role          string         `db:"role"`
	Verified      bool           `db:"verified"`
	OTPCode       sql.NullString `db:"otp_code"`
	OTPExpires    sql.NullTime   `db:"otp_expires"`
	Discipline    sql.NullString `db:"discipline"`
	Batch         sql.NullString `db:"batch"`
	RollNo        sql.NullString `db:"roll_no"`
	PhoneNumber   sql.NullString `db:"phone_number"`
	Semester      sql.NullString `db:"semester"`
	DateOfJoining sql.NullTime   `db:"date_of_joining"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r userRow) toModel() *models.User {
	user := &models.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash.String,
		GoogleID:     r.GoogleID.String,
		FullName:     r.FullName.String,
		Picture:      r.Picture.String,
		Role:         models.UserRole(r.Role),
		Verified:     r.Verified,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.OTPCode.Valid {
		code := r.OTPCode.String
		user.OTPCode = &code
	}
	if r.OTPExpires.Valid {
		expires := r.OTPExpires.Time
		user.OTPExpires = &expires
	}
	if user.Role == models.RoleStudent {
		profile := &models.StudentProfile{
			Discipline:  r.Discipline.String,
			Batch:       r.Batch.String,
			RollNo:      r.RollNo.String,
			PhoneNumber: r.PhoneNumber.String,
			Semester:    r.Semester.String,
		}
		if r.DateOfJoining.Valid {
			joined := r.DateOfJoining.Time
			profile.DateOfJoining = &joined
		}
		user.Profile = profile
	}
	return user
}

// UserRepository provides database access for identity management.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by normalized email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1 LIMIT 1`, userColumns)
	var row userRow
	if err := r.db.GetContext(ctx, &row, query, models.NormalizeEmail(email)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return row.toModel(), nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, userColumns)
	var row userRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return row.toModel(), nil
}

// Create inserts a new identity. The store's unique email index is the
// serialization point; callers map unique violations to Conflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Email = models.NormalizeEmail(user.Email)

	const query = `INSERT INTO users (id, email, password_hash, google_id, full_name, picture, role, verified, otp_code, otp_expires, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12)`
	if _, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.GoogleID, user.FullName, user.Picture,
		user.Role, user.Verified, user.OTPCode, user.OTPExpires, user.CreatedAt, user.UpdatedAt,
	); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// SetOTP stores a fresh code, expiry and (optionally) a new password hash on
// an existing unverified identity.
func (r *UserRepository) SetOTP(ctx context.Context, id, code string, expires time.Time, passwordHash string) error {
	const query = `UPDATE users SET otp_code = $2, otp_expires = $3,
		password_hash = COALESCE(NULLIF($4, ''), password_hash), updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, code, expires, passwordHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("set otp: %w", err)
	}
	return nil
}

// MarkVerified flips the verified flag and clears the code and expiry in the
// same statement; the two must become unusable together.
func (r *UserRepository) MarkVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET verified = TRUE, otp_code = NULL, otp_expires = NULL, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// UpdateProfile overwrites the role-dependent profile portion of a user.
// Student-only columns are nulled for admins.
func (r *UserRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()

	profile := user.Profile
	if user.Role != models.RoleStudent || profile == nil {
		profile = &models.StudentProfile{}
	}

	const query = `UPDATE users SET full_name = NULLIF($2, ''), role = $3, picture = COALESCE(NULLIF($4, ''), picture),
		discipline = NULLIF($5, ''), batch = NULLIF($6, ''), roll_no = NULLIF($7, ''),
		phone_number = NULLIF($8, ''), semester = NULLIF($9, ''), date_of_joining = $10,
		updated_at = $11 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query,
		user.ID, user.FullName, user.Role, user.Picture,
		profile.Discipline, profile.Batch, profile.RollNo,
		profile.PhoneNumber, profile.Semester, profile.DateOfJoining,
		user.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// LinkGoogleID attaches an external identity id to an existing user.
func (r *UserRepository) LinkGoogleID(ctx context.Context, id, googleID string) error {
	const query = `UPDATE users SET google_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, googleID, time.Now().UTC()); err != nil {
		return fmt.Errorf("link google id: %w", err)
	}
	return nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Verified != nil {
		conditions = append(conditions, fmt.Sprintf("verified = $%d", len(args)+1))
		args = append(args, *filter.Verified)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(full_name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", userColumns, baseQuery, pageSize, offset)

	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, *row.toModel())
	}
	return users, total, nil
}

// ResolveEmails maps the given emails to identity references, returning the
// emails that did not resolve.
func (r *UserRepository) ResolveEmails(ctx context.Context, emails []string) ([]models.UserRef, []string, error) {
	normalized := make([]string, 0, len(emails))
	for _, email := range emails {
		normalized = append(normalized, models.NormalizeEmail(email))
	}

	const query = `SELECT id, COALESCE(full_name, '') AS full_name, email FROM users WHERE email = ANY($1)`
	var refs []models.UserRef
	if err := r.db.SelectContext(ctx, &refs, query, pq.Array(normalized)); err != nil {
		return nil, nil, fmt.Errorf("resolve emails: %w", err)
	}

	found := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		found[ref.Email] = struct{}{}
	}
	var missing []string
	for _, email := range normalized {
		if _, ok := found[email]; !ok {
			missing = append(missing, email)
		}
	}
	return refs, missing, nil
}

// Exists reports whether an identity with the given id is present.
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return exists, nil
}
