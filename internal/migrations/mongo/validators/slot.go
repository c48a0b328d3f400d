package validators

import "go.mongodb.org/mongo-driver/bson"

// SlotValidator covers the documents of held slots. Available slots have no
// document, so state is never "available" here.
var SlotValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"staff_id",
			"date",
			"time_range",
			"state",
			"appointment_id",
			"held_by",
			"updated_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "string",
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

			"state": bson.M{
				"enum": []string{"locked", "confirmed"},
			},

			"appointment_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"held_by": bson.M{
				"bsonType": "object",
				"required": []string{"user_id", "session_id"},
				"properties": bson.M{
					"user_id": bson.M{
						"bsonType":  "string",
						"minLength": 1,
					},
					"session_id": bson.M{
						"bsonType": "string",
					},
				},
			},

			"locked_until": bson.M{
				"bsonType": "date",
			},

			"updated_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
