package ws

// Actions sent by the agent.
const (
	ActionRegister             = "register"
	ActionPrintersUpdate       = "printers_update"
	ActionPrinterList          = "printer_list"
	ActionHeartbeat            = "heartbeat"
	ActionDetectResult         = "detect_result"
	ActionAddPrinterResult     = "add_printer_result"
	ActionRemovePrinterResult  = "remove_printer_result"
	ActionChangeDriverResult   = "change_driver_result"
	ActionPrintResult          = "print_result"
	ActionTestPrintResult      = "test_print_result"
	ActionUpgradeResult        = "upgrade_result"
	ActionVersionInfo          = "version_info"
	ActionSyncCupsResult       = "sync_cups_result"
	ActionLogsResult           = "logs_result"
	ActionLogDatesResult       = "log_dates_result"
	ActionDeviceStatusResult   = "device_status_result"
	ActionCleanTempResult      = "clean_temp_result"
	ActionCupsJobsResult       = "cups_jobs_result"
	ActionCancelJobResult      = "cancel_job_result"
	ActionRebootResult         = "reboot_result"
	ActionRestartServiceResult = "restart_service_result"
	ActionDiscoverResult       = "discover_result"
)

// Actions received from the server.
const (
	ActionRegistered      = "registered"
	ActionRegisterOK      = "register_ok"
	ActionHeartbeatAck    = "heartbeat_ack"
	ActionPong            = "pong"
	ActionError           = "error"
	ActionBind            = "bind"
	ActionDetectUSB       = "detect_usb"
	ActionAddPrinter      = "add_printer"
	ActionRemovePrinter   = "remove_printer"
	ActionChangeDriver    = "change_driver"
	ActionPrint           = "print"
	ActionRefreshPrinters = "refresh_printers"
	ActionTestPrint       = "test_print"
	ActionUpgrade         = "upgrade"
	ActionGetVersion      = "get_version"
	ActionSyncCups        = "sync_cups_printers"
	ActionGetLogs         = "get_logs"
	ActionGetLogDates     = "get_log_dates"
	ActionGetDeviceStatus = "get_device_status"
	ActionCleanTempFiles  = "clean_temp_files"
	ActionGetCupsJobs     = "get_cups_jobs"
	ActionCancelCupsJob   = "cancel_cups_job"
	ActionReboot          = "reboot"
	ActionRestartService  = "restart_service"
	ActionDiscoverNetwork = "discover_network"
)
