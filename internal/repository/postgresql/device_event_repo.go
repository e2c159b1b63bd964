package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"parking_reserve/internal/domain"
	"parking_reserve/internal/repository"
	"time"
)

type pgDeviceEventRepository struct {
	db queryer
}

func NewPgDeviceEventRepository(db *sql.DB) repository.DeviceEventRepository {
	return &pgDeviceEventRepository{db: db}
}

func (r *pgDeviceEventRepository) Create(ctx context.Context, event *domain.DeviceEvent) error {
	query := `INSERT INTO device_events
                (device_id, device_uid, event_type, is_occupied, payload, event_timestamp, received_at, processed_status, processing_notes)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`

	var payloadToStore []byte
	if event.Payload != nil {
		payloadToStore = event.Payload
	}
	var isOccupied sql.NullBool
	if event.IsOccupied != nil {
		isOccupied = sql.NullBool{Bool: *event.IsOccupied, Valid: true}
	}
	var deviceID sql.NullInt64
	if event.DeviceID != 0 {
		deviceID = sql.NullInt64{Int64: int64(event.DeviceID), Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		deviceID,
		sql.NullString{String: event.DeviceUID, Valid: event.DeviceUID != ""},
		sql.NullString{String: string(event.EventType), Valid: event.EventType != ""},
		isOccupied,
		payloadToStore,
		event.EventTimestamp,
		event.ReceivedAt,
		sql.NullString{String: event.ProcessedStatus, Valid: event.ProcessedStatus != ""},
		sql.NullString{String: event.ProcessingNotes, Valid: event.ProcessingNotes != ""},
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("DeviceEventRepository.Create: %w", err)
	}
	return nil
}

func (r *pgDeviceEventRepository) FindRecentByDeviceID(ctx context.Context, deviceID int, limit int) ([]domain.DeviceEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, device_id, device_uid, event_type, is_occupied, payload, event_timestamp, received_at, processed_status, processing_notes
	           FROM device_events WHERE device_id = $1 ORDER BY received_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("DeviceEventRepository.FindRecentByDeviceID: %w", err)
	}
	defer rows.Close()

	var events []domain.DeviceEvent
	for rows.Next() {
		var event domain.DeviceEvent
		var dbDeviceID sql.NullInt64
		var deviceUID, eventType, processedStatus, processingNotes sql.NullString
		var isOccupied sql.NullBool
		var payload []byte

		if err := rows.Scan(
			&event.ID, &dbDeviceID, &deviceUID, &eventType, &isOccupied,
			&payload, &event.EventTimestamp, &event.ReceivedAt, &processedStatus, &processingNotes,
		); err != nil {
			return nil, fmt.Errorf("DeviceEventRepository.FindRecentByDeviceID (scanning row): %w", err)
		}
		if dbDeviceID.Valid {
			event.DeviceID = int(dbDeviceID.Int64)
		}
		if deviceUID.Valid {
			event.DeviceUID = deviceUID.String
		}
		if eventType.Valid {
			event.EventType = domain.DeviceEventType(eventType.String)
		}
		if isOccupied.Valid {
			b := isOccupied.Bool
			event.IsOccupied = &b
		}
		if payload != nil {
			event.Payload = payload
		}
		if processedStatus.Valid {
			event.ProcessedStatus = processedStatus.String
		}
		if processingNotes.Valid {
			event.ProcessingNotes = processingNotes.String
		}
		event.EventTimestamp = event.EventTimestamp.In(time.UTC)
		event.ReceivedAt = event.ReceivedAt.In(time.UTC)
		events = append(events, event)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("DeviceEventRepository.FindRecentByDeviceID (rows error): %w", err)
	}
	return events, nil
}
