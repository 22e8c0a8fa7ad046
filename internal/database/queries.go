package database

const (
	// User queries
	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, email, role) VALUES (?, ?, ?)`

	queryGetUserById = `
		SELECT u.id, u.email, u.role,
		       COALESCE(w.address, ''), COALESCE(w.derivation_index, 0),
		       u.created_at, u.updated_at
		FROM users u
		LEFT JOIN child_wallets w ON w.user_id = u.id AND w.status = 'ASSIGNED'
		WHERE u.id = ?`

	queryGetAllUsers = `
		SELECT u.id, u.email, u.role,
		       COALESCE(w.address, ''), COALESCE(w.derivation_index, 0),
		       u.created_at, u.updated_at
		FROM users u
		LEFT JOIN child_wallets w ON w.user_id = u.id AND w.status = 'ASSIGNED'
		ORDER BY u.created_at`

	// Child wallet queries
	queryInsertChildWallet = `
		INSERT INTO child_wallets (id, derivation_index, address, status)
		VALUES (?, ?, ?, 'FREE')`

	queryClaimFreeWallet = `
		UPDATE child_wallets
		SET status = 'ASSIGNED', user_id = ?, assigned_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT id FROM child_wallets
			WHERE status = 'FREE'
			ORDER BY derivation_index
			LIMIT 1
		) AND status = 'FREE'
		RETURNING id, derivation_index, address, status, user_id, assigned_at, created_at`

	queryGetWalletByUser = `
		SELECT id, derivation_index, address, status, COALESCE(user_id, ''), assigned_at, created_at
		FROM child_wallets
		WHERE user_id = ? AND status = 'ASSIGNED'`

	queryGetWalletByAddress = `
		SELECT id, derivation_index, address, status, COALESCE(user_id, ''), assigned_at, created_at
		FROM child_wallets
		WHERE address = ?`

	queryCountFreeWallets = `
		SELECT COUNT(*) FROM child_wallets WHERE status = 'FREE'`

	queryMaxDerivationIndex = `
		SELECT COALESCE(MAX(derivation_index), 0) FROM child_wallets`

	queryAssignedAddresses = `
		SELECT address FROM child_wallets WHERE status = 'ASSIGNED'`

	// Scanner checkpoint queries
	querySeedCheckpoint = `
		INSERT OR IGNORE INTO scanner_checkpoints (scanner_name, last_processed_block)
		VALUES (?, ?)`

	queryGetCheckpoint = `
		SELECT scanner_name, last_processed_block, is_running, error_count,
		       last_error, last_scan_at, updated_at
		FROM scanner_checkpoints
		WHERE scanner_name = ?`

	queryAdvanceCheckpoint = `
		UPDATE scanner_checkpoints
		SET last_processed_block = ?, last_error = '', error_count = 0,
		    last_scan_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE scanner_name = ? AND last_processed_block < ?`

	queryForceCheckpoint = `
		UPDATE scanner_checkpoints
		SET last_processed_block = ?, updated_at = CURRENT_TIMESTAMP
		WHERE scanner_name = ?`

	queryRecordCheckpointError = `
		UPDATE scanner_checkpoints
		SET last_error = ?, error_count = error_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE scanner_name = ?`

	querySetCheckpointRunning = `
		UPDATE scanner_checkpoints
		SET is_running = ?, updated_at = CURRENT_TIMESTAMP
		WHERE scanner_name = ?`

	// Deposit queries
	queryInsertDeposit = `
		INSERT OR IGNORE INTO deposits (
			id, tx_hash, log_index, direction, user_id, to_address,
			raw_amount, block_height, confirmations, status, contract_address
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 'PENDING', ?)`

	queryGetDepositById = `
		SELECT id, tx_hash, log_index, direction, user_id, to_address,
		       raw_amount, block_height, confirmations, status, contract_address,
		       sweep_tx_hash, created_at, confirmed_at, swept_at
		FROM deposits
		WHERE id = ?`

	queryPendingDeposits = `
		SELECT id, tx_hash, log_index, direction, user_id, to_address,
		       raw_amount, block_height, confirmations, status, contract_address,
		       sweep_tx_hash, created_at, confirmed_at, swept_at
		FROM deposits
		WHERE status = 'PENDING'
		ORDER BY block_height`

	queryUpdateConfirmations = `
		UPDATE deposits
		SET confirmations = MAX(confirmations, ?)
		WHERE id = ? AND status = 'PENDING'`

	queryConfirmDeposit = `
		UPDATE deposits
		SET status = 'CONFIRMED', confirmations = MAX(confirmations, ?), confirmed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PENDING'`

	queryConfirmedUnswept = `
		SELECT id, tx_hash, log_index, direction, user_id, to_address,
		       raw_amount, block_height, confirmations, status, contract_address,
		       sweep_tx_hash, created_at, confirmed_at, swept_at
		FROM deposits
		WHERE status = 'CONFIRMED' AND direction = 'IN'
		ORDER BY block_height
		LIMIT ?`

	queryMarkDepositSwept = `
		UPDATE deposits
		SET status = 'SWEPT', sweep_tx_hash = ?, swept_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'CONFIRMED'`

	queryDepositHistory = `
		SELECT id, tx_hash, log_index, direction, user_id, to_address,
		       raw_amount, block_height, confirmations, status, contract_address,
		       sweep_tx_hash, created_at, confirmed_at, swept_at
		FROM deposits
		WHERE user_id = ?
		ORDER BY block_height DESC
		LIMIT ? OFFSET ?`

	// Ledger queries
	queryCheckDuplicateReference = `
		SELECT id FROM ledger_entries
		WHERE entry_type = ? AND reference_id = ?
		LIMIT 1`

	queryGetBalanceRow = `
		SELECT user_id, balance, last_entry_id, version, updated_at
		FROM user_balances
		WHERE user_id = ?`

	queryInsertBalanceRow = `
		INSERT OR IGNORE INTO user_balances (user_id, balance, version) VALUES (?, 0, 0)`

	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries (
			id, user_id, entry_type, amount, balance_before, balance_after,
			reference_id, counterparty_id, description
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryUpdateBalanceRow = `
		UPDATE user_balances
		SET balance = ?, last_entry_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND version = ?`

	queryLedgerHistory = `
		SELECT id, user_id, entry_type, amount, balance_before, balance_after,
		       reference_id, counterparty_id, description, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	queryReconcileBalance = `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE user_id = ?`

	queryTotalLedgerBalance = `
		SELECT COALESCE(SUM(balance), 0) FROM user_balances`

	// Withdrawal queries
	queryInsertWithdrawal = `
		INSERT INTO withdrawals (id, user_id, raw_amount, to_address, status)
		VALUES (?, ?, ?, ?, 'PENDING')`

	queryGetWithdrawalById = `
		SELECT id, user_id, raw_amount, to_address, status, tx_hash,
		       approved_by, reject_reason, requested_at, processed_at
		FROM withdrawals
		WHERE id = ?`

	queryWithdrawalsByStatus = `
		SELECT id, user_id, raw_amount, to_address, status, tx_hash,
		       approved_by, reject_reason, requested_at, processed_at
		FROM withdrawals
		WHERE status = ?
		ORDER BY requested_at`

	queryUserWithdrawals = `
		SELECT id, user_id, raw_amount, to_address, status, tx_hash,
		       approved_by, reject_reason, requested_at, processed_at
		FROM withdrawals
		WHERE user_id = ?
		ORDER BY requested_at DESC
		LIMIT ? OFFSET ?`

	queryMarkWithdrawalBroadcasting = `
		UPDATE withdrawals
		SET status = 'BROADCASTING', approved_by = ?
		WHERE id = ? AND status = 'PENDING'`

	queryApproveWithdrawal = `
		UPDATE withdrawals
		SET status = 'APPROVED', tx_hash = ?
		WHERE id = ? AND status = 'BROADCASTING'`

	queryCompleteWithdrawal = `
		UPDATE withdrawals
		SET status = 'COMPLETED', processed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'APPROVED'`

	queryFailWithdrawal = `
		UPDATE withdrawals
		SET status = 'FAILED', reject_reason = ?, processed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('BROADCASTING', 'APPROVED')`

	queryRejectWithdrawal = `
		UPDATE withdrawals
		SET status = 'REJECTED', approved_by = ?, reject_reason = ?, processed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PENDING'`
)
