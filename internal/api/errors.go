package api

import "net/http"

// MessageRenamed tells the client its upload was stored under another name.
const MessageRenamed = 10001

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse(9400, msg))
}

// InvalidField writes a 400 error response naming the query or form field at fault.
func InvalidField(w http.ResponseWriter, field, msg string) {
	WriteJSON(w, http.StatusBadRequest, FieldErrorResponse(9400, msg, field))
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusNotFound, ErrorResponse(9404, msg))
}

// TooLarge writes a 413 error response.
func TooLarge(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse(9413, msg))
}

// UnsupportedMediaType writes a 415 error response.
func UnsupportedMediaType(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusUnsupportedMediaType, ErrorResponse(9415, msg))
}

// Unprocessable writes a 422 error response.
func Unprocessable(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse(9422, msg))
}

// InternalError writes a 500 error response.
func InternalError(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse(9500, msg))
}

// InsufficientStorage writes a 507 error response.
func InsufficientStorage(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusInsufficientStorage, ErrorResponse(9507, msg))
}
