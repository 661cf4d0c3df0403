package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/apperr"
	"github.com/hospitalops/hospital/internal/platform/db"
)

type appointmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, doctor_id, specialty_id, scheduled_at, reason, status, version,
	created_at, updated_at, deleted_at`

func scanAppointment(row interface {
	Scan(dest ...interface{}) error
}) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SpecialtyID, &a.ScheduledAt, &a.Reason,
		&a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Version = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, specialty_id, scheduled_at, reason, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.SpecialtyID, a.ScheduledAt, a.Reason, a.Status, a.Version,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) get(ctx context.Context, id uuid.UUID, lock bool) (*Appointment, error) {
	q := `SELECT ` + apptCols + ` FROM appointment WHERE id = $1 AND ` + db.NotDeleted("")
	if lock {
		q += ` FOR UPDATE`
	}
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, q, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("appointment %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, id, false)
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, id, true)
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment
		SET status = $3, doctor_id = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND `+db.NotDeleted("")+`
		RETURNING version, updated_at`,
		a.ID, a.Version, a.Status, a.DoctorID,
	).Scan(&a.Version, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.Conflict("appointment %s was modified concurrently", a.ID)
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) SoftDelete(ctx context.Context, a *Appointment, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET deleted_at = $3, version = version + 1, updated_at = $3
		WHERE id = $1 AND version = $2 AND `+db.NotDeleted(""),
		a.ID, a.Version, at)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("appointment %s was modified concurrently", a.ID)
	}
	a.MarkDeleted(at)
	a.Version++
	return nil
}

const viewSelect = `
	SELECT a.id, a.status, a.scheduled_at, a.reason, a.version, a.created_at, a.updated_at,
	       p.id, pu.full_name, pu.email, pu.phone_number,
	       d.id, du.full_name, d.specialty_id, ds.name, d.deleted_at IS NULL,
	       s.id, s.name,
	       EXISTS (SELECT 1 FROM prescription rx WHERE rx.appointment_id = a.id AND rx.deleted_at IS NULL)
	FROM appointment a
	JOIN patient p ON p.id = a.patient_id
	JOIN users pu ON pu.id = p.user_id
	LEFT JOIN doctor d ON d.id = a.doctor_id
	LEFT JOIN users du ON du.id = d.user_id
	LEFT JOIN specialty ds ON ds.id = d.specialty_id
	LEFT JOIN specialty s ON s.id = a.specialty_id`

func scanView(row interface {
	Scan(dest ...interface{}) error
}) (*View, error) {
	var (
		v           View
		doctorID    *uuid.UUID
		doctorName  *string
		doctorSpec  *uuid.UUID
		docSpecName *string
		doctorLive  *bool
		specID      *uuid.UUID
		specName    *string
	)
	err := row.Scan(&v.ID, &v.Status, &v.ScheduledAt, &v.Reason, &v.Version, &v.CreatedAt, &v.UpdatedAt,
		&v.Patient.ID, &v.Patient.FullName, &v.Patient.Email, &v.Patient.PhoneNumber,
		&doctorID, &doctorName, &doctorSpec, &docSpecName, &doctorLive,
		&specID, &specName,
		&v.HasPrescription)
	if err != nil {
		return nil, err
	}
	if doctorID != nil {
		v.Doctor = &identity.DoctorSummary{ID: *doctorID}
		if doctorName != nil {
			v.Doctor.FullName = *doctorName
		}
		if doctorSpec != nil {
			v.Doctor.SpecialtyID = *doctorSpec
		}
		if docSpecName != nil {
			v.Doctor.SpecialtyName = *docSpecName
		}
		v.Doctor.IsActive = doctorLive != nil && *doctorLive
	}
	if specID != nil {
		v.Specialty = &SpecialtySummary{ID: *specID}
		if specName != nil {
			v.Specialty.Name = *specName
		}
	}
	return v.finish(), nil
}

func (r *appointmentRepoPG) GetView(ctx context.Context, id uuid.UUID) (*View, error) {
	v, err := scanView(r.conn(ctx).QueryRow(ctx, viewSelect+` WHERE a.id = $1 AND `+db.NotDeleted("a"), id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("appointment %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment view: %w", err)
	}
	return v, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter) ([]*View, int, error) {
	col, ok := sortColumns[f.SortBy]
	if !ok {
		return nil, 0, apperr.Validation("cannot sort by %q", f.SortBy)
	}

	where := []string{db.NotDeleted("a")}
	var args []interface{}
	idx := 1

	if f.PatientID != nil {
		where = append(where, fmt.Sprintf("a.patient_id = $%d", idx))
		args = append(args, *f.PatientID)
		idx++
	}
	if f.DoctorID != nil {
		where = append(where, fmt.Sprintf("a.doctor_id = $%d", idx))
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("a.status = $%d", idx))
		args = append(args, *f.Status)
		idx++
	}
	if f.Search != "" {
		where = append(where, fmt.Sprintf("(a.reason ILIKE $%d OR pu.full_name ILIKE $%d)", idx, idx))
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	whereSQL := " WHERE " + strings.Join(where, " AND ")

	var total int
	countSQL := `SELECT COUNT(*) FROM appointment a
		JOIN patient p ON p.id = a.patient_id
		JOIN users pu ON pu.id = p.user_id` + whereSQL
	if err := r.conn(ctx).QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	query := fmt.Sprintf("%s%s ORDER BY %s %s, a.id LIMIT $%d OFFSET $%d",
		viewSelect, whereSQL, col, dir, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var items []*View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) CountOpenByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE doctor_id = $1 AND status IN ($2, $3) AND `+db.NotDeleted(""),
		doctorID, StatusPending, StatusConfirmed,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open appointments: %w", err)
	}
	return n, nil
}
