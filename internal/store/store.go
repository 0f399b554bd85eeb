package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// FindUserBySlackID returns the user with the given external id, or
// nil when no such user exists.
func (s *Store) FindUserBySlackID(slackID string) (*User, error) {
	row := s.db.QueryRow(`
		SELECT id, slack_id, name, real_name, deleted, is_bot, email, image_original, image_path
		FROM users WHERE slack_id = ?`, slackID)
	var u User
	err := row.Scan(&u.ID, &u.SlackID, &u.Name, &u.RealName, &u.Deleted, &u.IsBot,
		&u.Email, &u.ImageOriginal, &u.ImagePath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %s: %w", slackID, err)
	}
	return &u, nil
}

// UpsertUser creates or updates the user identified by
// params.SlackID. The local id is stable across updates: an existing
// row is mutated in place, never recreated. The bool reports whether
// a new row was created.
func (s *Store) UpsertUser(params UserParams) (*User, bool, error) {
	existing, err := s.FindUserBySlackID(params.SlackID)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		u := &User{
			ID:            uuid.NewString(),
			SlackID:       params.SlackID,
			Name:          params.Name,
			RealName:      params.RealName,
			Deleted:       params.Deleted,
			IsBot:         params.IsBot,
			Email:         params.Email,
			ImageOriginal: params.ImageOriginal,
		}
		_, err := s.db.Exec(`
			INSERT INTO users (id, slack_id, name, real_name, deleted, is_bot, email, image_original)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.SlackID, u.Name, u.RealName, u.Deleted, u.IsBot, u.Email, u.ImageOriginal)
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert user %s: %w", params.SlackID, err)
		}
		return u, true, nil
	}

	existing.Name = params.Name
	existing.RealName = params.RealName
	existing.Deleted = params.Deleted
	existing.IsBot = params.IsBot
	existing.Email = params.Email
	existing.ImageOriginal = params.ImageOriginal
	_, err = s.db.Exec(`
		UPDATE users SET name = ?, real_name = ?, deleted = ?, is_bot = ?, email = ?, image_original = ?
		WHERE id = ?`,
		existing.Name, existing.RealName, existing.Deleted, existing.IsBot,
		existing.Email, existing.ImageOriginal, existing.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update user %s: %w", params.SlackID, err)
	}
	return existing, false, nil
}

// SetUserImagePath records the locally materialized avatar path.
func (s *Store) SetUserImagePath(userID, path string) error {
	_, err := s.db.Exec(`UPDATE users SET image_path = ? WHERE id = ?`, path, userID)
	if err != nil {
		return fmt.Errorf("failed to set image path for user %s: %w", userID, err)
	}
	return nil
}

// FindChannelBySlackID returns the channel with the given external
// id, or nil when no such channel exists.
func (s *Store) FindChannelBySlackID(slackID string) (*Channel, error) {
	row := s.db.QueryRow(`
		SELECT id, slack_id, name, created, is_archived, COALESCE(creator_id, '')
		FROM channels WHERE slack_id = ?`, slackID)
	var c Channel
	err := row.Scan(&c.ID, &c.SlackID, &c.Name, &c.Created, &c.IsArchived, &c.CreatorID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query channel %s: %w", slackID, err)
	}
	return &c, nil
}

// UpsertChannel creates or updates the channel identified by
// params.SlackID, keeping the local id stable. The bool reports
// whether a new row was created.
func (s *Store) UpsertChannel(params ChannelParams) (*Channel, bool, error) {
	existing, err := s.FindChannelBySlackID(params.SlackID)
	if err != nil {
		return nil, false, err
	}

	creator := sql.NullString{String: params.CreatorID, Valid: params.CreatorID != ""}

	if existing == nil {
		c := &Channel{
			ID:         uuid.NewString(),
			SlackID:    params.SlackID,
			Name:       params.Name,
			Created:    params.Created,
			IsArchived: params.IsArchived,
			CreatorID:  params.CreatorID,
		}
		_, err := s.db.Exec(`
			INSERT INTO channels (id, slack_id, name, created, is_archived, creator_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.SlackID, c.Name, c.Created, c.IsArchived, creator)
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert channel %s: %w", params.SlackID, err)
		}
		return c, true, nil
	}

	existing.Name = params.Name
	existing.Created = params.Created
	existing.IsArchived = params.IsArchived
	existing.CreatorID = params.CreatorID
	_, err = s.db.Exec(`
		UPDATE channels SET name = ?, created = ?, is_archived = ?, creator_id = ?
		WHERE id = ?`,
		existing.Name, existing.Created, existing.IsArchived, creator, existing.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update channel %s: %w", params.SlackID, err)
	}
	return existing, false, nil
}

// ReplaceChannelMembers rewrites the membership join rows for a
// channel with the given local user ids.
func (s *Store) ReplaceChannelMembers(channelID string, userIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin members tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM channel_members WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("failed to clear members for channel %s: %w", channelID, err)
	}
	for _, uid := range userIDs {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO channel_members (channel_id, user_id) VALUES (?, ?)`,
			channelID, uid); err != nil {
			return fmt.Errorf("failed to insert member for channel %s: %w", channelID, err)
		}
	}
	return tx.Commit()
}

// FindOrCreateProp returns the topic or purpose row matching params
// for the channel, creating it if absent. Creating a new current
// value severs any previous row's channel association first, so the
// channel keeps at most one current topic and one current purpose
// while history rows survive detached.
func (s *Store) FindOrCreateProp(kind, channelID string, params PropParams) (*Prop, error) {
	if params.Value == "" {
		return nil, nil
	}

	creator := sql.NullString{String: params.CreatorID, Valid: params.CreatorID != ""}

	row := s.db.QueryRow(`
		SELECT id, kind, COALESCE(channel_id, ''), COALESCE(creator_id, ''), value, last_set
		FROM channel_props
		WHERE kind = ? AND value = ? AND last_set = ? AND creator_id IS ?`,
		kind, params.Value, params.LastSet, creator)

	var p Prop
	err := row.Scan(&p.ID, &p.Kind, &p.ChannelID, &p.CreatorID, &p.Value, &p.LastSet)
	if err == nil {
		return &p, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query %s for channel %s: %w", kind, channelID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin %s tx: %w", kind, err)
	}
	defer tx.Rollback()

	// Sever, never delete: superseded values stay as history rows.
	if _, err := tx.Exec(`
		UPDATE channel_props SET channel_id = NULL WHERE kind = ? AND channel_id = ?`,
		kind, channelID); err != nil {
		return nil, fmt.Errorf("failed to sever previous %s for channel %s: %w", kind, channelID, err)
	}

	p = Prop{
		ID:        uuid.NewString(),
		Kind:      kind,
		ChannelID: channelID,
		CreatorID: params.CreatorID,
		Value:     params.Value,
		LastSet:   params.LastSet,
	}
	if _, err := tx.Exec(`
		INSERT INTO channel_props (id, kind, channel_id, creator_id, value, last_set)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Kind, p.ChannelID, creator, p.Value, p.LastSet); err != nil {
		return nil, fmt.Errorf("failed to insert %s for channel %s: %w", kind, channelID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit %s for channel %s: %w", kind, channelID, err)
	}
	return &p, nil
}

// CurrentProp returns the channel's current topic or purpose, or nil.
func (s *Store) CurrentProp(kind, channelID string) (*Prop, error) {
	row := s.db.QueryRow(`
		SELECT id, kind, COALESCE(channel_id, ''), COALESCE(creator_id, ''), value, last_set
		FROM channel_props WHERE kind = ? AND channel_id = ?`, kind, channelID)
	var p Prop
	err := row.Scan(&p.ID, &p.Kind, &p.ChannelID, &p.CreatorID, &p.Value, &p.LastSet)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query current %s: %w", kind, err)
	}
	return &p, nil
}

// LatestMessageTimestamp returns the newest timestamp token stored
// for the channel, ordered by token. With no messages it returns
// BeginningOfTime, which compares older than any real token.
func (s *Store) LatestMessageTimestamp(channelID string) (string, error) {
	var ts sql.NullString
	err := s.db.QueryRow(`
		SELECT MAX(ts) FROM messages WHERE channel_id = ?`, channelID).Scan(&ts)
	if err != nil {
		return "", fmt.Errorf("failed to query latest ts for channel %s: %w", channelID, err)
	}
	if !ts.Valid || ts.String == "" {
		return BeginningOfTime, nil
	}
	return ts.String, nil
}

// InsertMessage persists a message together with its owned reactions,
// file and attachments in a single transaction. Ownership cascades by
// construction: nothing here exists without its message row.
func (s *Store) InsertMessage(m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin message tx: %w", err)
	}
	defer tx.Rollback()

	user := sql.NullString{String: m.UserID, Valid: m.UserID != ""}
	if _, err := tx.Exec(`
		INSERT INTO messages (id, channel_id, user_id, ts, subtype, text, is_starred)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChannelID, user, m.TS, m.Subtype, m.Text, m.IsStarred); err != nil {
		return fmt.Errorf("failed to insert message %s/%s: %w", m.ChannelID, m.TS, err)
	}

	for i := range m.Reactions {
		r := &m.Reactions[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, err := tx.Exec(`
			INSERT INTO reactions (id, message_id, position, name, count)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, m.ID, i, r.Name, r.Count); err != nil {
			return fmt.Errorf("failed to insert reaction for message %s: %w", m.ID, err)
		}
	}

	if m.File != nil {
		if m.File.ID == "" {
			m.File.ID = uuid.NewString()
		}
		if _, err := tx.Exec(`
			INSERT INTO files (id, message_id, title, name, url, filepath)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.File.ID, m.ID, m.File.Title, m.File.Name, m.File.URL, m.File.Filepath); err != nil {
			return fmt.Errorf("failed to insert file for message %s: %w", m.ID, err)
		}
	}

	for i := range m.Attachments {
		a := &m.Attachments[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if _, err := tx.Exec(`
			INSERT INTO attachments (id, message_id, position, title, fallback, text)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, m.ID, i, a.Title, a.Fallback, a.Text); err != nil {
			return fmt.Errorf("failed to insert attachment for message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// ListUsers returns every user row.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`
		SELECT id, slack_id, name, real_name, deleted, is_bot, email, image_original, image_path
		FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.SlackID, &u.Name, &u.RealName, &u.Deleted, &u.IsBot,
			&u.Email, &u.ImageOriginal, &u.ImagePath); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListChannels returns every channel row.
func (s *Store) ListChannels() ([]Channel, error) {
	rows, err := s.db.Query(`
		SELECT id, slack_id, name, created, is_archived, COALESCE(creator_id, '')
		FROM channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.SlackID, &c.Name, &c.Created, &c.IsArchived, &c.CreatorID); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// MessagesForChannel returns the channel's messages in chronological
// order, hydrated with their reactions, file and attachments, plus the
// author's display name for rendering.
func (s *Store) MessagesForChannel(channelID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT m.id, m.channel_id, COALESCE(m.user_id, ''), m.ts, m.subtype, m.text, m.is_starred,
		       COALESCE(u.name, '')
		FROM messages m LEFT JOIN users u ON u.id = m.user_id
		WHERE m.channel_id = ?
		ORDER BY m.ts`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for channel %s: %w", channelID, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.TS, &m.Subtype, &m.Text,
			&m.IsStarred, &m.UserName); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range msgs {
		if err := s.hydrateMessage(&msgs[i]); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

func (s *Store) hydrateMessage(m *Message) error {
	rRows, err := s.db.Query(`
		SELECT id, name, count FROM reactions WHERE message_id = ? ORDER BY position`, m.ID)
	if err != nil {
		return fmt.Errorf("failed to query reactions for message %s: %w", m.ID, err)
	}
	defer rRows.Close()
	for rRows.Next() {
		var r Reaction
		if err := rRows.Scan(&r.ID, &r.Name, &r.Count); err != nil {
			return fmt.Errorf("failed to scan reaction: %w", err)
		}
		m.Reactions = append(m.Reactions, r)
	}
	if err := rRows.Err(); err != nil {
		return err
	}

	var f File
	err = s.db.QueryRow(`
		SELECT id, title, name, url, filepath FROM files WHERE message_id = ?`, m.ID).
		Scan(&f.ID, &f.Title, &f.Name, &f.URL, &f.Filepath)
	if err == nil {
		m.File = &f
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("failed to query file for message %s: %w", m.ID, err)
	}

	aRows, err := s.db.Query(`
		SELECT id, title, fallback, text FROM attachments WHERE message_id = ? ORDER BY position`, m.ID)
	if err != nil {
		return fmt.Errorf("failed to query attachments for message %s: %w", m.ID, err)
	}
	defer aRows.Close()
	for aRows.Next() {
		var a Attachment
		if err := aRows.Scan(&a.ID, &a.Title, &a.Fallback, &a.Text); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		m.Attachments = append(m.Attachments, a)
	}
	return aRows.Err()
}
