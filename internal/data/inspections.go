package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// Inspection is one persisted pass of the production line.
type Inspection struct {
	InspectionID int64     `json:"inspection_id"`
	ProductNo    string    `json:"product_no"`
	Serial       int       `json:"serial"`
	InspectionDT time.Time `json:"inspection_dt"`
	Status       string    `json:"status"`
	ImagePath    *string   `json:"image_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// InspectionImage is one captured frame attached to an inspection.
// Metadata is raw JSON; it rides through the API base64-encoded.
type InspectionImage struct {
	ID               int64     `json:"id"`
	InspectionID     int64     `json:"inspection_id"`
	ImageNo          int       `json:"image_no"`
	ImagePath        string    `json:"image_path"`
	ImageType        string    `json:"image_type"`
	CaptureTimestamp time.Time `json:"capture_timestamp"`
	ImageMetadata    []byte    `json:"image_metadata,omitempty"`
}

// InspectionPresentation groups result images for the UI (groups A-E).
type InspectionPresentation struct {
	ID           int64  `json:"id"`
	InspectionID int64  `json:"inspection_id"`
	GroupName    string `json:"group_name"`
	ImagePath    string `json:"image_path"`
}

// InspectionDetail is an inspection with its attachments.
type InspectionDetail struct {
	Inspection
	Images       []InspectionImage        `json:"images"`
	Presentation []InspectionPresentation `json:"presentation"`
}

type InspectionModel struct {
	DB DBTX
}

// Insert persists a new inspection row and fills in InspectionID and
// CreatedAt.
func (m InspectionModel) Insert(ctx context.Context, ins *Inspection) error {
	if ins.Status == "" {
		ins.Status = "captured"
	}
	if ins.InspectionDT.IsZero() {
		ins.InspectionDT = time.Now().UTC()
	}

	query := `
		INSERT INTO t_inspection (product_no, serial, inspection_dt, status, image_path)
		VALUES (?, ?, ?, ?, ?)`

	res, err := m.DB.ExecContext(ctx, query,
		ins.ProductNo, ins.Serial, ins.InspectionDT, ins.Status, ins.ImagePath,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ins.InspectionID = id
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = time.Now().UTC()
	}
	return nil
}

// AddImage attaches a captured frame to an inspection.
func (m InspectionModel) AddImage(ctx context.Context, img *InspectionImage) error {
	query := `
		INSERT INTO t_inspection_images (inspection_id, image_no, image_path, image_type, capture_timestamp, image_metadata)
		VALUES (?, ?, ?, ?, ?, ?)`

	var meta any
	if len(img.ImageMetadata) > 0 {
		meta = string(img.ImageMetadata)
	}
	res, err := m.DB.ExecContext(ctx, query,
		img.InspectionID, img.ImageNo, img.ImagePath, img.ImageType, img.CaptureTimestamp, meta,
	)
	if err != nil {
		return err
	}
	img.ID, err = res.LastInsertId()
	return err
}

// AddPresentation files an image under a UI group (A-E) for an inspection.
func (m InspectionModel) AddPresentation(ctx context.Context, p *InspectionPresentation) error {
	query := `
		INSERT INTO t_inspection_presentation (inspection_id, group_name, image_path)
		VALUES (?, ?, ?)`

	res, err := m.DB.ExecContext(ctx, query, p.InspectionID, p.GroupName, p.ImagePath)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

// LatestPerProduct returns the most recent inspection for each requested
// product_no. Products with no inspections are simply absent from the
// result. The watcher calls this every poll tick.
func (m InspectionModel) LatestPerProduct(ctx context.Context, productNos []string) ([]*Inspection, error) {
	if len(productNos) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(productNos)), ", ")
	query := fmt.Sprintf(`
		SELECT inspection_id, product_no, serial, inspection_dt, status, image_path, created_at
		FROM (
			SELECT inspection_id, product_no, serial, inspection_dt, status, image_path, created_at,
			       ROW_NUMBER() OVER (PARTITION BY product_no ORDER BY inspection_dt DESC, inspection_id DESC) AS rn
			FROM t_inspection
			WHERE product_no IN (%s)
		)
		WHERE rn = 1`, placeholders)

	args := make([]any, len(productNos))
	for i, p := range productNos {
		args[i] = p
	}

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Inspection
	for rows.Next() {
		ins, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// HistoryFilter narrows History results. Zero values mean "no filter".
type HistoryFilter struct {
	ProductNo string
	DateFrom  time.Time
	DateTo    time.Time
	Limit     int
}

// History lists inspections newest-first.
func (m InspectionModel) History(ctx context.Context, f HistoryFilter) ([]*Inspection, error) {
	where := "WHERE 1=1"
	var args []any

	if f.ProductNo != "" {
		where += " AND product_no = ?"
		args = append(args, f.ProductNo)
	}
	if !f.DateFrom.IsZero() {
		where += " AND inspection_dt >= ?"
		args = append(args, f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		where += " AND inspection_dt <= ?"
		args = append(args, f.DateTo)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT inspection_id, product_no, serial, inspection_dt, status, image_path, created_at
		FROM t_inspection
		%s
		ORDER BY inspection_dt DESC, inspection_id DESC
		LIMIT ?`, where)
	args = append(args, limit)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Inspection
	for rows.Next() {
		ins, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// Get loads one inspection with its images and presentation groups.
func (m InspectionModel) Get(ctx context.Context, id int64) (*InspectionDetail, error) {
	query := `
		SELECT inspection_id, product_no, serial, inspection_dt, status, image_path, created_at
		FROM t_inspection
		WHERE inspection_id = ?`

	var d InspectionDetail
	var imagePath sql.NullString
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&d.InspectionID, &d.ProductNo, &d.Serial, &d.InspectionDT, &d.Status, &imagePath, &d.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if imagePath.Valid {
		d.ImagePath = &imagePath.String
	}

	if d.Images, err = m.imagesFor(ctx, id); err != nil {
		return nil, err
	}
	if d.Presentation, err = m.presentationFor(ctx, id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (m InspectionModel) imagesFor(ctx context.Context, id int64) ([]InspectionImage, error) {
	query := `
		SELECT id, inspection_id, image_no, image_path, image_type, capture_timestamp, image_metadata
		FROM t_inspection_images
		WHERE inspection_id = ?
		ORDER BY image_no`

	rows, err := m.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InspectionImage
	for rows.Next() {
		var img InspectionImage
		var meta sql.NullString
		if err := rows.Scan(&img.ID, &img.InspectionID, &img.ImageNo, &img.ImagePath, &img.ImageType, &img.CaptureTimestamp, &meta); err != nil {
			return nil, err
		}
		if meta.Valid {
			img.ImageMetadata = []byte(meta.String)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (m InspectionModel) presentationFor(ctx context.Context, id int64) ([]InspectionPresentation, error) {
	query := `
		SELECT id, inspection_id, group_name, image_path
		FROM t_inspection_presentation
		WHERE inspection_id = ?
		ORDER BY group_name`

	rows, err := m.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InspectionPresentation
	for rows.Next() {
		var p InspectionPresentation
		if err := rows.Scan(&p.ID, &p.InspectionID, &p.GroupName, &p.ImagePath); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanInspection(rows *sql.Rows) (*Inspection, error) {
	var ins Inspection
	var imagePath sql.NullString
	if err := rows.Scan(&ins.InspectionID, &ins.ProductNo, &ins.Serial, &ins.InspectionDT, &ins.Status, &imagePath, &ins.CreatedAt); err != nil {
		return nil, err
	}
	if imagePath.Valid {
		ins.ImagePath = &imagePath.String
	}
	return &ins, nil
}
