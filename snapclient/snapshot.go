// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapclient

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mobiletoly/go-snapsync/snapsync"
)

// ReadSnapshot reads every local user and task in id order. Empty tables yield empty
// (non-nil) collections.
func (c *Client) ReadSnapshot(ctx context.Context) (*snapsync.Snapshot, error) {
	users, err := c.readUsers(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := c.readTasks(ctx)
	if err != nil {
		return nil, err
	}
	return &snapsync.Snapshot{Users: users, Tasks: tasks}, nil
}

func (c *Client) readUsers(ctx context.Context) ([]snapsync.User, error) {
	rows, err := c.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT name, email, age FROM %s ORDER BY id`, quoteIdent(c.config.UsersTable)))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []snapsync.User{}
	for rows.Next() {
		var (
			u   snapsync.User
			age sql.NullInt64
		)
		if err := rows.Scan(&u.Name, &u.Email, &age); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if age.Valid {
			v := int(age.Int64)
			u.Age = &v
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return users, nil
}

func (c *Client) readTasks(ctx context.Context) ([]snapsync.Task, error) {
	rows, err := c.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT title, description, user_id, completed FROM %s ORDER BY id`, quoteIdent(c.config.TasksTable)))
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []snapsync.Task{}
	for rows.Next() {
		var (
			t      snapsync.Task
			userID sql.NullInt64
		)
		if err := rows.Scan(&t.Title, &t.Description, &userID, &t.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if userID.Valid {
			v := userID.Int64
			t.UserID = &v
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	return tasks, nil
}
