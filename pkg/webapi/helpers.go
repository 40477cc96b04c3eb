package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	veil "github.com/veilnet/veilwallet/pkg"
)

var httpCodeForError = map[string]int{
	string(veil.BadRequest):            400,
	string(veil.NotAvailable):          503,
	string(veil.NotFound):              404,
	string(veil.AlreadyExists):         500,
	string(veil.LoggedOut):             401,
	string(veil.WrongPIN):              403,
	string(veil.InvalidInvoice):        400,
	string(veil.InvalidAddress):        400,
	string(veil.InvalidReference):      400,
	string(veil.InsufficientBalance):   409,
	string(veil.InsufficientFee):       409,
	string(veil.MaxSpendingCount):      409,
	string(veil.OutputNotConfirmed):    409,
	string(veil.AlreadyPaid):           409,
	string(veil.PendingTransaction):    409,
	string(veil.AddressDust):           400,
	string(veil.RemoteServer):          502,
	string(veil.MissingResponse):       502,
	string(veil.InconsistentBroadcast): 502,
	string(veil.UnknownError):          500,
}

func HttpStatusForError(code veil.ErrorCode) int {
	status, found := httpCodeForError[string(code)]
	if !found {
		status = http.StatusInternalServerError
	}
	return status
}

func sendResponse(w http.ResponseWriter, payload any) {
	// note: w.Header after this, so we can call sendError
	b, err := json.Marshal(payload)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "marshal", fmt.Sprintf("in json.Marshal: %s", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store") // do not cache (Browsers cache GET forever by default)
	w.Write(b)
}

// sendStatusResponse is sendResponse with a non-200 status.
func sendStatusResponse(w http.ResponseWriter, statusCode int, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "marshal", fmt.Sprintf("in json.Marshal: %s", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	w.Write(b)
}

func sendBadRequest(w http.ResponseWriter, message string) {
	sendErrorResponse(w, http.StatusBadRequest, veil.BadRequest, message)
}

func sendError(w http.ResponseWriter, where string, err error) {
	var info *veil.ErrorInfo
	if errors.As(err, &info) {
		status := HttpStatusForError(info.Code)
		message := fmt.Sprintf("%s: %s", where, info.Message)
		sendErrorResponse(w, status, info.Code, message)
	} else {
		message := fmt.Sprintf("%s: %s", where, err.Error())
		sendErrorResponse(w, http.StatusInternalServerError, veil.UnknownError, message)
	}
}

func sendErrorResponse(w http.ResponseWriter, statusCode int, code veil.ErrorCode, message string) {
	log.Printf("[!] %s: %s\n", code, message)
	// would prefer to use json.Marshal, but this avoids the need
	// to handle encoding errors arising from json.Marshal itself!
	payload := fmt.Sprintf("{\"error\":{\"code\":%q,\"message\":%q}}", code, message)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store") // do not cache (Browsers cache GET forever by default)
	w.WriteHeader(statusCode)
	w.Write([]byte(payload))
}
