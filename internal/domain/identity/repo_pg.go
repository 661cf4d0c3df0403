package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospitalops/hospital/internal/platform/apperr"
	"github.com/hospitalops/hospital/internal/platform/db"
)

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, full_name, email, phone_number, password_hash, role, avatar, created_at, updated_at, deleted_at`

func scanUser(row interface {
	Scan(dest ...interface{}) error
}) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PhoneNumber, &u.PasswordHash,
		&u.Role, &u.Avatar, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	return &u, err
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, full_name, email, phone_number, password_hash, role, avatar)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		u.ID, u.FullName, u.Email, u.PhoneNumber, u.PasswordHash, u.Role, u.Avatar,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err, "") {
		return apperr.Conflict("email or phone number already registered")
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1 AND `+db.NotDeleted(""), id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE lower(email) = lower($1) AND `+db.NotDeleted(""), email))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user with email %s", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) EmailOrPhoneTaken(ctx context.Context, email, phone string) (bool, error) {
	var taken bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users
			WHERE (lower(email) = lower($1) OR phone_number = $2) AND `+db.NotDeleted("")+`
		)`, email, phone).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check user uniqueness: %w", err)
	}
	return taken, nil
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientSelect = `
	SELECT p.id, p.user_id, p.insurance_no, p.address, p.created_at, p.updated_at, p.deleted_at,
	       u.full_name, u.email, u.phone_number
	FROM patient p
	JOIN users u ON u.id = p.user_id`

func scanPatient(row interface {
	Scan(dest ...interface{}) error
}) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.InsuranceNo, &p.Address, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
		&p.FullName, &p.Email, &p.PhoneNumber)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, user_id, insurance_no, address)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.InsuranceNo, p.Address,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err, "ux_patient_insurance") {
		return apperr.Conflict("insurance number already registered")
	}
	if err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		patientSelect+` WHERE p.id = $1 AND `+db.NotDeleted("p"), id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		patientSelect+` WHERE p.user_id = $1 AND `+db.NotDeleted("p"), userID))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient for user %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient by user: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) List(ctx context.Context, f PatientFilter) ([]*Patient, int, error) {
	where := ` WHERE ` + db.NotDeleted("p")
	var args []interface{}
	idx := 1
	if f.Search != "" {
		where += fmt.Sprintf(` AND (u.full_name ILIKE $%d OR u.email ILIKE $%d OR p.insurance_no ILIKE $%d)`, idx, idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient p JOIN users u ON u.id = p.user_id`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	query := patientSelect + where + fmt.Sprintf(` ORDER BY u.full_name, p.id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, f.Limit, f.Offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan patient: %w", err)
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// -- Doctor Repository --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

const doctorSelect = `
	SELECT d.id, d.user_id, d.specialty_id, d.license_no, d.bio, d.years_of_experience,
	       d.created_at, d.updated_at, d.deleted_at, u.full_name, s.name
	FROM doctor d
	JOIN users u ON u.id = d.user_id
	JOIN specialty s ON s.id = d.specialty_id`

func scanDoctor(row interface {
	Scan(dest ...interface{}) error
}) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.SpecialtyID, &d.LicenseNo, &d.Bio, &d.YearsOfExperience,
		&d.CreatedAt, &d.UpdatedAt, &d.DeletedAt, &d.FullName, &d.SpecialtyName)
	return &d, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctor (id, user_id, specialty_id, license_no, bio, years_of_experience)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.SpecialtyID, d.LicenseNo, d.Bio, d.YearsOfExperience,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if db.IsUniqueViolation(err, "ux_doctor_license") {
		return apperr.Conflict("license number %s already registered", d.LicenseNo)
	}
	if err != nil {
		return fmt.Errorf("create doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE doctor SET specialty_id = $2, license_no = $3, bio = $4, years_of_experience = $5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.SpecialtyID, d.LicenseNo, d.Bio, d.YearsOfExperience,
	).Scan(&d.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("doctor %s", d.ID)
	}
	if db.IsUniqueViolation(err, "ux_doctor_license") {
		return apperr.Conflict("license number %s already registered", d.LicenseNo)
	}
	if err != nil {
		return fmt.Errorf("update doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) getOne(ctx context.Context, where string, arg interface{}) (*Doctor, error) {
	d, err := scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, doctorSelect+` WHERE `+where, arg))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("doctor %v", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.getOne(ctx, `d.id = $1 AND `+db.NotDeleted("d"), id)
}

func (r *doctorRepoPG) GetByIDIncludingInactive(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.getOne(ctx, `d.id = $1`, id)
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return r.getOne(ctx, `d.user_id = $1 AND `+db.NotDeleted("d"), userID)
}

func (r *doctorRepoPG) GetForShare(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.getOne(ctx, `d.id = $1 FOR SHARE OF d`, id)
}

func (r *doctorRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.getOne(ctx, `d.id = $1 FOR UPDATE OF d`, id)
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	var clauses []string
	var args []interface{}
	idx := 1
	if !f.IncludeInactive {
		clauses = append(clauses, db.NotDeleted("d"))
	}
	if f.SpecialtyID != nil {
		clauses = append(clauses, fmt.Sprintf("d.specialty_id = $%d", idx))
		args = append(args, *f.SpecialtyID)
		idx++
	}
	if f.Search != "" {
		clauses = append(clauses, fmt.Sprintf("u.full_name ILIKE $%d", idx))
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM doctor d JOIN users u ON u.id = d.user_id`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctors: %w", err)
	}

	query := doctorSelect + where + fmt.Sprintf(` ORDER BY u.full_name, d.id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, f.Limit, f.Offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan doctor: %w", err)
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *doctorRepoPG) SetDeletedAt(ctx context.Context, id uuid.UUID, at *time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE doctor SET deleted_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update doctor status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("doctor %s", id)
	}
	return nil
}

// -- Specialty Repository --

type specialtyRepoPG struct {
	pool *pgxpool.Pool
}

func NewSpecialtyRepo(pool *pgxpool.Pool) SpecialtyRepository {
	return &specialtyRepoPG{pool: pool}
}

func (r *specialtyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	var s Specialty
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, deleted_at FROM specialty WHERE id = $1 AND `+db.NotDeleted(""), id,
	).Scan(&s.ID, &s.Name, &s.DeletedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("specialty %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get specialty: %w", err)
	}
	return &s, nil
}

func (r *specialtyRepoPG) List(ctx context.Context) ([]*Specialty, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT id, name, deleted_at FROM specialty WHERE `+db.NotDeleted("")+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list specialties: %w", err)
	}
	defer rows.Close()

	var items []*Specialty
	for rows.Next() {
		var s Specialty
		if err := rows.Scan(&s.ID, &s.Name, &s.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan specialty: %w", err)
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}
