// Package account implements the account registry and its scheduling
// state machine.
//
// States and transitions:
//
//	ok       -> cooldown  rate-limit signal, cooldown_until = now + backoff
//	cooldown -> ok        now >= cooldown_until
//	ok       -> captcha   challenge page, captcha_tries += 1
//	captcha  -> ok        solve success
//	captcha  -> banned    captcha_tries exceeds the threshold
//	any      -> error     crash, timeout or lost session
//	error    -> ok        next scheduling attempt succeeds
//
// banned and disabled are terminal; only Reset leaves them.
//
// An account is eligible when its status is ok, or cooldown with
// cooldown_until elapsed, and its proxy can be resolved.
package account
