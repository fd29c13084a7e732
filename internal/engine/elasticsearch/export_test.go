package elasticsearch

var DeleteIndex = (*Engine).deleteIndex
