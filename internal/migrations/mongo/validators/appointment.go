package validators

import "go.mongodb.org/mongo-driver/bson"

var AppointmentValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"user_id",
			"session_id",
			"staff_id",
			"date",
			"time_range",
			"status",
			"created_at",
			"updated_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"user_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"session_id": bson.M{
				"bsonType":  "string",
				"maxLength": 128,
			},

			"staff_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"date": bson.M{
				"bsonType": "string",
				"pattern":  `^\d{4}-\d{2}-\d{2}$`,
			},

			"time_range": bson.M{
				"bsonType": "string",
				"pattern":  `^\d{2}:\d{2}-\d{2}:\d{2}$`,
			},

			"status": bson.M{
				"enum": []string{"locked", "confirmed", "cancelled"},
			},

			"cancel_reason": bson.M{
				"enum": []string{"user", "expired"},
			},

			"locked_until": bson.M{
				"bsonType": "date",
			},

			"confirmed_at": bson.M{
				"bsonType": "date",
			},

			"cancelled_at": bson.M{
				"bsonType": "date",
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"updated_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
