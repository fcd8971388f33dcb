package dashboard

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Safety Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.3/dist/css/bootstrap.min.css">
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/bootstrap-icons@1.11.3/font/bootstrap-icons.min.css">
    <style>
        .warning { color: #dc3545; font-weight: 600; }
        .video-container img { width: 100%; height: auto; background: #000; min-height: 240px; }
    </style>
</head>
<body class="bg-light">
    <div class="container py-4">
        <div class="d-flex justify-content-between align-items-center mb-3">
            <h1 class="h3 mb-0">Safety Monitor</h1>
            <div class="d-flex gap-2">
                <button id="startMonitoring" class="btn btn-primary"><i class="bi bi-camera-video"></i> Start Monitoring</button>
                <button id="emergencyBtn" class="btn btn-warning"><i class="bi bi-telephone"></i> Emergency</button>
            </div>
        </div>

        <div class="row g-3">
            <div class="col-lg-8">
                <div id="alertSlot"></div>
                <div class="video-container">
                    <img id="videoStream" alt="Live video feed">
                </div>
            </div>
            <div class="col-lg-4">
                <div class="card">
                    <div class="card-body">
                        <p class="person-count mb-1">Person Count: 0</p>
                        <p class="male-count mb-1">Males: 0</p>
                        <p class="female-count mb-1">Females: 0</p>
                        <p class="status-text mb-1">No person detected</p>
                        <p class="coverage-text mb-0">Coverage: 0.00</p>
                    </div>
                </div>
            </div>
        </div>
    </div>

    <script>
    (function () {
        const videoStream = document.getElementById('videoStream');
        const startBtn = document.getElementById('startMonitoring');
        const emergencyBtn = document.getElementById('emergencyBtn');
        const alertSlot = document.getElementById('alertSlot');
        const fields = {
            person_count: document.querySelector('.person-count'),
            male_count: document.querySelector('.male-count'),
            female_count: document.querySelector('.female-count'),
            status: document.querySelector('.status-text'),
            coverage: document.querySelector('.coverage-text'),
        };
        let view = null;
        let shownAlert = 0;

        function post(path, body) {
            return fetch(path, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: body ? JSON.stringify(body) : '',
            }).then(r => r.json());
        }

        function render(next) {
            const prev = view;
            view = next;

            const c = next.control;
            startBtn.innerHTML = '<i class="bi ' + c.icon + '"></i> ' + c.label;
            startBtn.className = 'btn ' + c.style;

            if (!prev || prev.video_url !== next.video_url) {
                if (next.video_url) {
                    videoStream.src = next.video_url;
                } else {
                    videoStream.removeAttribute('src');
                }
            }

            for (const key in fields) {
                fields[key].textContent = next.display[key];
            }
            fields.status.classList.toggle('warning', next.display.status_warning);
            fields.coverage.classList.toggle('warning', next.display.coverage_warning);

            renderAlert(next.alert);
        }

        function renderAlert(alert) {
            if (!alert) {
                alertSlot.innerHTML = '';
                shownAlert = 0;
                return;
            }
            if (alert.id === shownAlert) {
                return;
            }
            shownAlert = alert.id;
            const div = document.createElement('div');
            div.className = 'alert alert-danger alert-dismissible fade show';
            const strong = document.createElement('strong');
            strong.textContent = 'Warning! ';
            div.appendChild(strong);
            div.appendChild(document.createTextNode(alert.message));
            const close = document.createElement('button');
            close.type = 'button';
            close.className = 'btn-close';
            close.addEventListener('click', () => post('/api/alert/dismiss', {id: alert.id}));
            div.appendChild(close);
            alertSlot.replaceChildren(div);
        }

        videoStream.addEventListener('error', function () {
            if (view && view.active && videoStream.getAttribute('src')) {
                post('/api/session/video-error', {epoch: view.epoch});
            }
        });

        startBtn.addEventListener('click', () => post('/api/session/toggle').then(render));

        emergencyBtn.addEventListener('click', function () {
            post('/api/emergency').then(res => {
                const audio = new Audio(res.alarm_sound);
                audio.play().catch(err => console.error('Error playing alarm:', err));
                if (confirm(res.confirm)) {
                    window.location.href = res.dial;
                }
            });
        });

        const events = new EventSource('/api/state/stream');
        events.onmessage = e => render(JSON.parse(e.data));
        events.onerror = () => console.error('State stream interrupted, retrying');
    })();
    </script>
</body>
</html>
`
