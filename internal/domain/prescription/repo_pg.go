package prescription

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospitalops/hospital/internal/platform/apperr"
	"github.com/hospitalops/hospital/internal/platform/db"
)

const uniqueAppointment = "ux_prescription_appointment"

type prescriptionRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO prescription (id, appointment_id, doctor_id, notes, total_cents)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		p.ID, p.AppointmentID, p.DoctorID, p.Notes, p.TotalCents,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err, uniqueAppointment) {
		return apperr.Conflict("appointment %s already has a prescription", p.AppointmentID)
	}
	if err != nil {
		return fmt.Errorf("create prescription: %w", err)
	}

	for i := range p.Lines {
		l := &p.Lines[i]
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		_, err := q.Exec(ctx, `
			INSERT INTO prescription_line (id, prescription_id, medicine_id, quantity, unit_price_cents, usage_instruction)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			l.ID, p.ID, l.MedicineID, l.Quantity, l.UnitPriceCents, l.UsageInstruction)
		if err != nil {
			return fmt.Errorf("create prescription line: %w", err)
		}
	}
	return nil
}

func (r *prescriptionRepoPG) ExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM prescription WHERE appointment_id = $1 AND `+db.NotDeleted("")+`)`,
		appointmentID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check prescription: %w", err)
	}
	return ok, nil
}

const viewSelect = `
	SELECT rx.id, rx.appointment_id, rx.doctor_id, rx.notes, rx.total_cents, rx.created_at, rx.updated_at,
	       a.scheduled_at, a.reason,
	       p.id, pu.full_name, pu.email, pu.phone_number,
	       d.id, du.full_name, d.specialty_id, s.name, d.deleted_at IS NULL
	FROM prescription rx
	JOIN appointment a ON a.id = rx.appointment_id
	JOIN patient p ON p.id = a.patient_id
	JOIN users pu ON pu.id = p.user_id
	JOIN doctor d ON d.id = rx.doctor_id
	JOIN users du ON du.id = d.user_id
	JOIN specialty s ON s.id = d.specialty_id`

func scanView(row interface {
	Scan(dest ...interface{}) error
}) (*View, error) {
	var v View
	err := row.Scan(&v.ID, &v.AppointmentID, &v.DoctorID, &v.Notes, &v.TotalCents, &v.CreatedAt, &v.UpdatedAt,
		&v.Appointment.ScheduledAt, &v.Appointment.Reason,
		&v.Patient.ID, &v.Patient.FullName, &v.Patient.Email, &v.Patient.PhoneNumber,
		&v.Doctor.ID, &v.Doctor.FullName, &v.Doctor.SpecialtyID, &v.Doctor.SpecialtyName, &v.Doctor.IsActive)
	if err != nil {
		return nil, err
	}
	v.Appointment.ID = v.AppointmentID
	return &v, nil
}

func (r *prescriptionRepoPG) getView(ctx context.Context, where string, arg uuid.UUID) (*View, error) {
	v, err := scanView(r.conn(ctx).QueryRow(ctx, viewSelect+` WHERE `+where+` AND `+db.NotDeleted("rx"), arg))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("prescription for %s", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	if err := r.loadLines(ctx, []*View{v}); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *prescriptionRepoPG) GetView(ctx context.Context, id uuid.UUID) (*View, error) {
	return r.getView(ctx, "rx.id = $1", id)
}

func (r *prescriptionRepoPG) GetViewByAppointment(ctx context.Context, appointmentID uuid.UUID) (*View, error) {
	return r.getView(ctx, "rx.appointment_id = $1", appointmentID)
}

func (r *prescriptionRepoPG) List(ctx context.Context, f ListFilter) ([]*View, int, error) {
	col, ok := sortColumns[f.SortBy]
	if !ok {
		return nil, 0, apperr.Validation("cannot sort by %q", f.SortBy)
	}

	where := []string{db.NotDeleted("rx")}
	var args []interface{}
	idx := 1

	if f.PatientID != nil {
		where = append(where, fmt.Sprintf("a.patient_id = $%d", idx))
		args = append(args, *f.PatientID)
		idx++
	}
	if f.DoctorID != nil {
		where = append(where, fmt.Sprintf("rx.doctor_id = $%d", idx))
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.Search != "" {
		where = append(where, fmt.Sprintf("(rx.notes ILIKE $%d OR pu.full_name ILIKE $%d OR du.full_name ILIKE $%d)", idx, idx, idx))
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	whereSQL := " WHERE " + strings.Join(where, " AND ")

	var total int
	countSQL := `SELECT COUNT(*) FROM prescription rx
		JOIN appointment a ON a.id = rx.appointment_id
		JOIN patient p ON p.id = a.patient_id
		JOIN users pu ON pu.id = p.user_id
		JOIN doctor d ON d.id = rx.doctor_id
		JOIN users du ON du.id = d.user_id` + whereSQL
	if err := r.conn(ctx).QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}

	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	query := fmt.Sprintf("%s%s ORDER BY %s %s, rx.id LIMIT $%d OFFSET $%d",
		viewSelect, whereSQL, col, dir, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}
	var items []*View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan prescription: %w", err)
		}
		items = append(items, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}

	if err := r.loadLines(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// loadLines fills Lines on every view with a single query.
func (r *prescriptionRepoPG) loadLines(ctx context.Context, views []*View) error {
	if len(views) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*View, len(views))
	ids := make([]uuid.UUID, 0, len(views))
	for _, v := range views {
		v.Lines = []Line{}
		byID[v.ID] = v
		ids = append(ids, v.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT l.prescription_id, l.id, l.medicine_id, m.name, l.quantity, l.unit_price_cents, l.usage_instruction
		FROM prescription_line l
		JOIN medicine m ON m.id = l.medicine_id
		WHERE l.prescription_id = ANY($1)
		ORDER BY l.prescription_id, m.name`, ids)
	if err != nil {
		return fmt.Errorf("load prescription lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rxID uuid.UUID
			l    Line
		)
		if err := rows.Scan(&rxID, &l.ID, &l.MedicineID, &l.MedicineName, &l.Quantity, &l.UnitPriceCents, &l.UsageInstruction); err != nil {
			return fmt.Errorf("scan prescription line: %w", err)
		}
		if v, ok := byID[rxID]; ok {
			v.Lines = append(v.Lines, l)
		}
	}
	return rows.Err()
}

type medicineRepoPG struct {
	pool *pgxpool.Pool
}

func NewMedicineRepo(pool *pgxpool.Pool) MedicineRepository {
	return &medicineRepoPG{pool: pool}
}

func (r *medicineRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Medicine, error) {
	out := make(map[uuid.UUID]*Medicine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, name, description, price_cents, deleted_at
		FROM medicine WHERE id = ANY($1) AND `+db.NotDeleted(""), ids)
	if err != nil {
		return nil, fmt.Errorf("get medicines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m Medicine
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.PriceCents, &m.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan medicine: %w", err)
		}
		out[m.ID] = &m
	}
	return out, rows.Err()
}
