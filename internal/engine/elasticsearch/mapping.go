package elasticsearch

// DefaultIndexName is the index used when none is configured.
const DefaultIndexName = "products"

// indexMapping is the settings and mapping for the products index. Title and
// description use the standard analyzer so multi_match behaves like a plain
// full-text match over both fields.
const indexMapping = `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0
  },
  "mappings": {
    "properties": {
      "id":             { "type": "long" },
      "seller_id":      { "type": "keyword" },
      "title":          { "type": "text", "fields": { "keyword": { "type": "keyword", "ignore_above": 256 } } },
      "description":    { "type": "text" },
      "price":          { "type": "scaled_float", "scaling_factor": 100 },
      "stock_quantity": { "type": "integer" },
      "image_url":      { "type": "keyword", "index": false },
      "category_id":    { "type": "long" },
      "created_at":     { "type": "date" },
      "updated_at":     { "type": "date" }
    }
  }
}`
