package store

import "github.com/example/reelhub/internal/paginate"

// UsersSchema exposes the public identity fields to pipelines. Email and
// hashes are not declared, so no pipeline can read or filter on them.
var UsersSchema = paginate.Schema{
	Name:  "users",
	Table: "users",
	Key:   "id",
	Fields: map[string]paginate.Field{
		"id":          {Column: "id", Type: paginate.String},
		"username":    {Column: "username", Type: paginate.String},
		"displayName": {Column: "display_name", Type: paginate.String},
		"createdAt":   {Column: "created_at", Type: paginate.Time},
	},
}

var VideosSchema = paginate.Schema{
	Name:  "videos",
	Table: "videos",
	Key:   "id",
	Fields: map[string]paginate.Field{
		"id":          {Column: "id", Type: paginate.String},
		"title":       {Column: "title", Type: paginate.String},
		"description": {Column: "description", Type: paginate.String},
		"duration":    {Column: "duration_seconds", Type: paginate.Int},
		"views":       {Column: "views", Type: paginate.Int},
		"published":   {Column: "published", Type: paginate.Bool},
		"ownerId":     {Column: "owner_id", Type: paginate.String},
		"createdAt":   {Column: "created_at", Type: paginate.Time},
		"updatedAt":   {Column: "updated_at", Type: paginate.Time},
	},
}
